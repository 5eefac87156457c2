package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffTracker(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := newBackoffTracker(time.Minute, time.Hour)
	tracker.now = func() time.Time { return now }

	assert.True(t, tracker.Ready("book-a"), "unknown keys are always ready")

	// First failure: one base interval of delay.
	tracker.Failure("book-a")
	assert.False(t, tracker.Ready("book-a"))
	now = now.Add(time.Minute)
	assert.True(t, tracker.Ready("book-a"))

	// Second consecutive failure doubles the delay.
	tracker.Failure("book-a")
	now = now.Add(time.Minute)
	assert.False(t, tracker.Ready("book-a"))
	now = now.Add(time.Minute)
	assert.True(t, tracker.Ready("book-a"))

	// Other keys are unaffected.
	assert.True(t, tracker.Ready("book-b"))
}

func TestBackoffTrackerCapsAtMax(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := newBackoffTracker(time.Minute, 4*time.Minute)
	tracker.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		tracker.Failure("book-a")
	}

	now = now.Add(4 * time.Minute)
	assert.True(t, tracker.Ready("book-a"), "delay never exceeds the cap")
}

func TestBackoffTrackerSuccessResets(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := newBackoffTracker(time.Minute, time.Hour)
	tracker.now = func() time.Time { return now }

	tracker.Failure("book-a")
	tracker.Failure("book-a")
	tracker.Success("book-a")

	assert.True(t, tracker.Ready("book-a"))

	// The failure streak restarts from the base delay.
	tracker.Failure("book-a")
	now = now.Add(time.Minute)
	assert.True(t, tracker.Ready("book-a"))
}
