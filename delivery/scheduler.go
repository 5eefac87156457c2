package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JordanSekky/cereal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCursorIntegrity marks a subscription whose cursor references a chapter
// outside its book. This points at a data-model bug; it is flagged for the
// operator rather than silently repaired.
var ErrCursorIntegrity = errors.New("subscription cursor references a chapter outside its book")

// SubscriptionStore runs an evaluation under the subscription's mutual
// exclusion: fn observes the current subscription, and a returned cursor is
// persisted atomically with the read. See datastore.SubscriptionRepository.
type SubscriptionStore interface {
	Evaluate(ctx context.Context, subscriptionID uuid.UUID, fn func(sub *models.Subscription) (*models.Cursor, error)) error
}

// ChapterStore is the slice of the chapter repository the scheduler needs.
type ChapterStore interface {
	GetChaptersAfter(ctx context.Context, bookID uuid.UUID, after *time.Time, limit int) ([]models.Chapter, error)
	GetChapterByID(ctx context.Context, chapterID uuid.UUID) (*models.Chapter, error)
}

// BookStore is the slice of the book repository the scheduler needs.
type BookStore interface {
	GetBookByID(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
}

// SubscriberStore is the slice of the subscriber repository the scheduler
// needs.
type SubscriberStore interface {
	GetSubscriberByID(ctx context.Context, subscriberID uuid.UUID) (*models.Subscriber, error)
}

// Scheduler evaluates subscriptions and dispatches pending chapter batches.
type Scheduler struct {
	subscriptions SubscriptionStore
	chapters      ChapterStore
	books         BookStore
	subscribers   SubscriberStore
	channels      []Channel
	logger        zerolog.Logger
}

// NewScheduler creates a delivery scheduler dispatching through the given
// channels.
func NewScheduler(
	subscriptions SubscriptionStore,
	chapters ChapterStore,
	books BookStore,
	subscribers SubscriberStore,
	logger zerolog.Logger,
	channels ...Channel,
) *Scheduler {
	return &Scheduler{
		subscriptions: subscriptions,
		chapters:      chapters,
		books:         books,
		subscribers:   subscribers,
		channels:      channels,
		logger:        logger.With().Str("component", "delivery").Logger(),
	}
}

// Result reports one evaluation.
type Result struct {
	SubscriptionID uuid.UUID
	// Delivered is the batch sent this evaluation, in ingestion order.
	// Empty means the evaluation was a no-op.
	Delivered []models.Chapter
	// Cursor is the new cursor position, nil when nothing was delivered.
	Cursor *models.Cursor
}

// Evaluate computes the subscription's pending chapter window, sends the
// first chunk-size chapters through every applicable channel, and advances
// the cursor to the last chapter of the batch.
//
// The cursor read, the channel dispatch, and the cursor write all happen
// under the subscription's lock, and the cursor write shares a transaction
// with the read: concurrent evaluators of the same subscription cannot both
// observe the stale cursor. The channel call itself is not transactional
// with the cursor write, so a crash between provider acceptance and commit
// resends the same batch next pass. That is deliberate: duplicates after a
// crash beat silently lost chapters, and the external providers offer no
// handshake that would make the pair atomic.
//
// On any channel failure the cursor is untouched and the identical batch is
// recomputed on the next pass. Never more than chunk-size chapters go out
// in one evaluation; a subscriber far behind catches up gradually.
func (s *Scheduler) Evaluate(ctx context.Context, subscriptionID uuid.UUID) (*Result, error) {
	result := &Result{SubscriptionID: subscriptionID}

	err := s.subscriptions.Evaluate(ctx, subscriptionID, func(sub *models.Subscription) (*models.Cursor, error) {
		after, err := s.cursorTimestamp(ctx, sub)
		if err != nil {
			return nil, err
		}

		pending, err := s.chapters.GetChaptersAfter(ctx, sub.BookID, after, sub.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to compute pending window for subscription %s: %w", sub.ID, err)
		}
		if len(pending) == 0 {
			return nil, nil
		}

		book, err := s.books.GetBookByID(ctx, sub.BookID)
		if err != nil {
			return nil, fmt.Errorf("failed to load book for subscription %s: %w", sub.ID, err)
		}
		subscriber, err := s.subscribers.GetSubscriberByID(ctx, sub.SubscriberID)
		if err != nil {
			return nil, fmt.Errorf("failed to load subscriber for subscription %s: %w", sub.ID, err)
		}

		batch := Batch{Book: book, Subscriber: subscriber, Chapters: pending}
		if err := s.dispatch(ctx, sub, batch); err != nil {
			return nil, err
		}

		last := pending[len(pending)-1]
		cursor := &models.Cursor{ChapterID: last.ID, IngestedAt: last.IngestedAt}
		result.Delivered = pending
		result.Cursor = cursor
		return cursor, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// cursorTimestamp resolves the pending-window lower bound and verifies the
// cursor invariant.
func (s *Scheduler) cursorTimestamp(ctx context.Context, sub *models.Subscription) (*time.Time, error) {
	if sub.Cursor == nil {
		return nil, nil
	}
	chapter, err := s.chapters.GetChapterByID(ctx, sub.Cursor.ChapterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription %s cursor chapter %s does not exist: %w",
				sub.ID, sub.Cursor.ChapterID, ErrCursorIntegrity)
		}
		return nil, fmt.Errorf("failed to load cursor chapter for subscription %s: %w", sub.ID, err)
	}
	if chapter.BookID != sub.BookID {
		return nil, fmt.Errorf("subscription %s cursor chapter %s belongs to book %s, not %s: %w",
			sub.ID, chapter.ID, chapter.BookID, sub.BookID, ErrCursorIntegrity)
	}
	ts := sub.Cursor.IngestedAt
	return &ts, nil
}

// dispatch sends the batch through every channel matching the subscriber's
// destinations. A subscriber with both destinations set receives the batch
// on both, sharing one cursor; modeling that as two subscriptions is the
// supported configuration, this is best effort. All applicable channels
// must accept before the cursor advances.
func (s *Scheduler) dispatch(ctx context.Context, sub *models.Subscription, batch Batch) error {
	dispatched := 0
	for _, channel := range s.channels {
		if !channel.Applies(batch.Subscriber) {
			continue
		}
		dispatched++
		if err := channel.Deliver(ctx, batch); err != nil {
			return fmt.Errorf("channel %s failed for subscription %s: %w", channel.Name(), sub.ID, err)
		}
		s.logger.Info().
			Str("subscription_id", sub.ID.String()).
			Str("channel", channel.Name()).
			Int("chapters", len(batch.Chapters)).
			Msg("delivered chapter batch")
	}
	if dispatched == 0 {
		return &Error{
			Kind: KindPermanent,
			Err:  fmt.Errorf("subscriber %s has no usable destination", batch.Subscriber.ID),
		}
	}
	return nil
}
