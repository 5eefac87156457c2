package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanSekky/cereal/models"
)

// fakeSubscriptionStore mimics the repository's evaluate-under-lock
// contract: fn sees the current subscription and a returned cursor is
// persisted.
type fakeSubscriptionStore struct {
	subs map[uuid.UUID]*models.Subscription
}

func (f *fakeSubscriptionStore) Evaluate(ctx context.Context, subscriptionID uuid.UUID, fn func(sub *models.Subscription) (*models.Cursor, error)) error {
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return sql.ErrNoRows
	}
	snapshot := *sub
	cursor, err := fn(&snapshot)
	if err != nil {
		return err
	}
	if cursor != nil {
		sub.Cursor = cursor
	}
	return nil
}

type fakeChapterStore struct {
	chapters []models.Chapter
}

func (f *fakeChapterStore) GetChaptersAfter(ctx context.Context, bookID uuid.UUID, after *time.Time, limit int) ([]models.Chapter, error) {
	var out []models.Chapter
	for _, c := range f.chapters {
		if c.BookID != bookID {
			continue
		}
		if after != nil && !c.IngestedAt.After(*after) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.Before(out[j].IngestedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeChapterStore) GetChapterByID(ctx context.Context, chapterID uuid.UUID) (*models.Chapter, error) {
	for i := range f.chapters {
		if f.chapters[i].ID == chapterID {
			return &f.chapters[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

type fakeBookStore struct {
	books map[uuid.UUID]*models.Book
}

func (f *fakeBookStore) GetBookByID(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	book, ok := f.books[bookID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return book, nil
}

type fakeSubscriberStore struct {
	subscribers map[uuid.UUID]*models.Subscriber
}

func (f *fakeSubscriberStore) GetSubscriberByID(ctx context.Context, subscriberID uuid.UUID) (*models.Subscriber, error) {
	sub, ok := f.subscribers[subscriberID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return sub, nil
}

// recordingChannel accepts every batch unless failures is positive.
type recordingChannel struct {
	name     string
	applies  func(*models.Subscriber) bool
	batches  []Batch
	failures int
	failWith error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Applies(sub *models.Subscriber) bool {
	if c.applies == nil {
		return true
	}
	return c.applies(sub)
}

func (c *recordingChannel) Deliver(ctx context.Context, batch Batch) error {
	if c.failures > 0 {
		c.failures--
		if c.failWith != nil {
			return c.failWith
		}
		return &Error{Kind: KindTransient, Err: fmt.Errorf("provider unavailable")}
	}
	c.batches = append(c.batches, batch)
	return nil
}

type schedulerFixture struct {
	scheduler    *Scheduler
	subscription *models.Subscription
	subs         *fakeSubscriptionStore
	chapters     *fakeChapterStore
	channel      *recordingChannel
}

// newFixture builds a subscription over a book with the given number of
// already-ingested chapters, one second apart.
func newFixture(t *testing.T, chapterCount, chunkSize int, channels ...Channel) *schedulerFixture {
	t.Helper()

	kindle := "reader@kindle.com"
	book := &models.Book{ID: uuid.New(), Title: "Worm", Author: "Wildbow"}
	subscriber := &models.Subscriber{ID: uuid.New(), Name: "Taylor", KindleEmail: &kindle}
	subscription := &models.Subscription{
		ID:           uuid.New(),
		SubscriberID: subscriber.ID,
		BookID:       book.ID,
		ChunkSize:    chunkSize,
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	chapters := &fakeChapterStore{}
	for i := 0; i < chapterCount; i++ {
		chapters.chapters = append(chapters.chapters, models.Chapter{
			ID:         uuid.New(),
			BookID:     book.ID,
			Title:      fmt.Sprintf("Chapter %d", i+1),
			IngestedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	var channel *recordingChannel
	if len(channels) == 0 {
		channel = &recordingChannel{name: "test"}
		channels = []Channel{channel}
	} else if rc, ok := channels[0].(*recordingChannel); ok {
		channel = rc
	}

	subs := &fakeSubscriptionStore{subs: map[uuid.UUID]*models.Subscription{subscription.ID: subscription}}
	scheduler := NewScheduler(
		subs,
		chapters,
		&fakeBookStore{books: map[uuid.UUID]*models.Book{book.ID: book}},
		&fakeSubscriberStore{subscribers: map[uuid.UUID]*models.Subscriber{subscriber.ID: subscriber}},
		zerolog.Nop(),
		channels...,
	)

	return &schedulerFixture{
		scheduler:    scheduler,
		subscription: subscription,
		subs:         subs,
		chapters:     chapters,
		channel:      channel,
	}
}

func TestEvaluateDeliversChunksInOrder(t *testing.T) {
	f := newFixture(t, 7, 3)
	ctx := context.Background()

	var delivered []string
	expectedSizes := []int{3, 3, 1}
	for _, want := range expectedSizes {
		result, err := f.scheduler.Evaluate(ctx, f.subscription.ID)
		require.NoError(t, err)
		require.Len(t, result.Delivered, want)
		for _, c := range result.Delivered {
			delivered = append(delivered, c.Title)
		}

		last := result.Delivered[len(result.Delivered)-1]
		require.NotNil(t, result.Cursor)
		assert.Equal(t, last.ID, result.Cursor.ChapterID)
		assert.Equal(t, last.IngestedAt, result.Cursor.IngestedAt)
		assert.Equal(t, result.Cursor, f.subscription.Cursor)
	}

	assert.Equal(t, []string{
		"Chapter 1", "Chapter 2", "Chapter 3",
		"Chapter 4", "Chapter 5", "Chapter 6",
		"Chapter 7",
	}, delivered)

	// Fully caught up: the next evaluation is a no-op.
	result, err := f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Delivered)
	assert.Nil(t, result.Cursor)
}

func TestEvaluatePicksUpChaptersIngestedBetweenPasses(t *testing.T) {
	f := newFixture(t, 3, 2)
	ctx := context.Background()

	result, err := f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.NoError(t, err)
	require.Len(t, result.Delivered, 2)
	assert.Equal(t, "Chapter 2", result.Delivered[1].Title)

	// A fourth chapter arrives before the next evaluation.
	last := f.chapters.chapters[len(f.chapters.chapters)-1]
	f.chapters.chapters = append(f.chapters.chapters, models.Chapter{
		ID:         uuid.New(),
		BookID:     last.BookID,
		Title:      "Chapter 4",
		IngestedAt: last.IngestedAt.Add(time.Second),
	})

	result, err = f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.NoError(t, err)
	require.Len(t, result.Delivered, 2)
	assert.Equal(t, "Chapter 3", result.Delivered[0].Title)
	assert.Equal(t, "Chapter 4", result.Delivered[1].Title)
	assert.Equal(t, result.Delivered[1].ID, f.subscription.Cursor.ChapterID)

	result, err = f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Delivered)
}

func TestEvaluatePartialBatchDelivered(t *testing.T) {
	f := newFixture(t, 2, 5)

	result, err := f.scheduler.Evaluate(context.Background(), f.subscription.ID)
	require.NoError(t, err)
	assert.Len(t, result.Delivered, 2)
	require.NotNil(t, f.subscription.Cursor)
}

func TestEvaluateNoPendingIsNoOp(t *testing.T) {
	f := newFixture(t, 0, 3)

	result, err := f.scheduler.Evaluate(context.Background(), f.subscription.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Delivered)
	assert.Nil(t, f.subscription.Cursor)
	assert.Empty(t, f.channel.batches)
}

func TestEvaluateFailureLeavesCursorAndRetriesSameBatch(t *testing.T) {
	channel := &recordingChannel{name: "test", failures: 1}
	f := newFixture(t, 5, 2, channel)
	ctx := context.Background()

	_, err := f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.Error(t, err)
	assert.Nil(t, f.subscription.Cursor, "cursor must not advance on failure")

	// The retry recomputes the identical batch.
	result, err := f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.NoError(t, err)
	require.Len(t, result.Delivered, 2)
	assert.Equal(t, "Chapter 1", result.Delivered[0].Title)
	assert.Equal(t, "Chapter 2", result.Delivered[1].Title)
}

func TestEvaluateNoUsableDestinationIsPermanent(t *testing.T) {
	channel := &recordingChannel{name: "test", applies: func(*models.Subscriber) bool { return false }}
	f := newFixture(t, 3, 2, channel)

	_, err := f.scheduler.Evaluate(context.Background(), f.subscription.ID)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Nil(t, f.subscription.Cursor)
}

func TestEvaluateCursorChapterMissing(t *testing.T) {
	f := newFixture(t, 3, 2)
	f.subscription.Cursor = &models.Cursor{ChapterID: uuid.New(), IngestedAt: time.Now().UTC()}

	_, err := f.scheduler.Evaluate(context.Background(), f.subscription.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCursorIntegrity))
}

func TestEvaluateCursorChapterFromOtherBook(t *testing.T) {
	f := newFixture(t, 3, 2)

	foreign := models.Chapter{
		ID:         uuid.New(),
		BookID:     uuid.New(),
		Title:      "Interlude",
		IngestedAt: time.Now().UTC(),
	}
	f.chapters.chapters = append(f.chapters.chapters, foreign)
	f.subscription.Cursor = &models.Cursor{ChapterID: foreign.ID, IngestedAt: foreign.IngestedAt}

	_, err := f.scheduler.Evaluate(context.Background(), f.subscription.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCursorIntegrity))
}

func TestEvaluateDispatchesToAllApplicableChannels(t *testing.T) {
	email := &recordingChannel{name: "email"}
	pushover := &recordingChannel{name: "pushover"}
	f := newFixture(t, 2, 5, email, pushover)

	result, err := f.scheduler.Evaluate(context.Background(), f.subscription.ID)
	require.NoError(t, err)
	assert.Len(t, result.Delivered, 2)
	require.Len(t, email.batches, 1)
	require.Len(t, pushover.batches, 1)
	assert.Equal(t, email.batches[0].Chapters, pushover.batches[0].Chapters)
}

func TestEvaluateSecondApplicableChannelFailureHoldsCursor(t *testing.T) {
	email := &recordingChannel{name: "email"}
	pushover := &recordingChannel{name: "pushover", failures: 1}
	f := newFixture(t, 2, 5, email, pushover)
	ctx := context.Background()

	_, err := f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.Error(t, err)
	assert.Nil(t, f.subscription.Cursor)

	// The email channel accepted the first attempt; the retry resends the
	// batch to both. At-least-once, not exactly-once.
	result, err := f.scheduler.Evaluate(ctx, f.subscription.ID)
	require.NoError(t, err)
	assert.Len(t, result.Delivered, 2)
	assert.Len(t, email.batches, 2)
	assert.Len(t, pushover.batches, 1)
}
