package scheduler

import (
	"sync"
	"time"
)

// backoffTracker delays retries of units that keep failing transiently,
// doubling the wait after each consecutive failure up to a cap. It keeps a
// flaky source from being hammered every pass without slowing down healthy
// ones.
type backoffTracker struct {
	mu      sync.Mutex
	base    time.Duration
	max     time.Duration
	entries map[string]*backoffEntry
	now     func() time.Time
}

type backoffEntry struct {
	failures int
	until    time.Time
}

func newBackoffTracker(base, max time.Duration) *backoffTracker {
	return &backoffTracker{
		base:    base,
		max:     max,
		entries: make(map[string]*backoffEntry),
		now:     time.Now,
	}
}

// Ready reports whether the key's backoff window has elapsed.
func (b *backoffTracker) Ready(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return true
	}
	return !b.now().Before(entry.until)
}

// Failure records a transient failure and extends the key's wait.
func (b *backoffTracker) Failure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		entry = &backoffEntry{}
		b.entries[key] = entry
	}
	delay := b.base << entry.failures
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	entry.failures++
	entry.until = b.now().Add(delay)
}

// Success clears the key's backoff state.
func (b *backoffTracker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}
