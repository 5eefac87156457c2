package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/JordanSekky/cereal/models"
	"github.com/google/uuid"
)

// ErrEvaluationInProgress is returned by Evaluate when another evaluator
// already holds the subscription's advisory lock. The caller should skip the
// subscription and pick it up on the next pass.
var ErrEvaluationInProgress = errors.New("subscription evaluation already in progress")

// SubscriptionRepository handles database operations for subscriptions.
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, subscriber_id, book_id, chunk_size,
	last_delivered_chapter_id, last_delivered_chapter_ingested_at,
	created_at, updated_at
`

// CreateSubscription inserts a new subscription record.
func (r *SubscriptionRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1, got %d", sub.ChunkSize)
	}

	var cursorID *uuid.UUID
	var cursorTS *time.Time
	if sub.Cursor != nil {
		cursorID = &sub.Cursor.ChapterID
		cursorTS = &sub.Cursor.IngestedAt
	}

	query := `
		INSERT INTO subscriptions (
			id, subscriber_id, book_id, chunk_size,
			last_delivered_chapter_id, last_delivered_chapter_ingested_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		sub.ID, sub.SubscriberID, sub.BookID, sub.ChunkSize,
		cursorID, cursorTS, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// GetSubscriptionByID retrieves a subscription by ID.
func (r *SubscriptionRepository) GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, subscriptionID)
	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subscription %s not found: %w", subscriptionID, err)
		}
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

// GetSubscriptions retrieves all subscriptions.
func (r *SubscriptionRepository) GetSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// GetSubscriptionsBySubscriberID retrieves a subscriber's subscriptions.
func (r *SubscriptionRepository) GetSubscriptionsBySubscriberID(ctx context.Context, subscriberID uuid.UUID) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE subscriber_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions for subscriber %s: %w", subscriberID, err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// UpdateChunkSize changes a subscription's batch size.
func (r *SubscriptionRepository) UpdateChunkSize(ctx context.Context, subscriptionID uuid.UUID, chunkSize int) (*models.Subscription, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be at least 1, got %d", chunkSize)
	}
	query := `
		UPDATE subscriptions
		SET chunk_size = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + subscriptionColumns
	row := r.db.QueryRowContext(ctx, query, subscriptionID, chunkSize, time.Now().UTC())
	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subscription %s not found: %w", subscriptionID, err)
		}
		return nil, fmt.Errorf("failed to update subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

// DeleteSubscription removes a subscription.
func (r *SubscriptionRepository) DeleteSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, subscriptionID); err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// Evaluate runs fn inside a transaction that holds the subscription's
// advisory lock, passing the subscription as freshly read within that
// transaction. If fn returns a non-nil cursor it is persisted before commit;
// on error the transaction rolls back and the cursor is untouched.
//
// The lock is transaction-scoped (pg_try_advisory_xact_lock), so it cannot
// leak if the process dies mid-evaluation, and it serializes evaluators of
// the same subscription across replicated orchestrators. If the lock is
// already held, ErrEvaluationInProgress is returned without invoking fn.
func (r *SubscriptionRepository) Evaluate(ctx context.Context, subscriptionID uuid.UUID, fn func(sub *models.Subscription) (*models.Cursor, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin evaluation transaction: %w", err)
	}
	defer tx.Rollback()

	var locked bool
	err = tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, advisoryLockKey(subscriptionID)).Scan(&locked)
	if err != nil {
		return fmt.Errorf("failed to acquire advisory lock for subscription %s: %w", subscriptionID, err)
	}
	if !locked {
		return ErrEvaluationInProgress
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(tx.QueryRowContext(ctx, query, subscriptionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("subscription %s not found: %w", subscriptionID, err)
		}
		return fmt.Errorf("failed to read subscription %s for evaluation: %w", subscriptionID, err)
	}

	cursor, err := fn(sub)
	if err != nil {
		return err
	}
	if cursor == nil {
		// Nothing delivered; no cursor write, nothing to commit.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_delivered_chapter_id = $2,
		    last_delivered_chapter_ingested_at = $3,
		    updated_at = $4
		WHERE id = $1
	`, subscriptionID, cursor.ChapterID, cursor.IngestedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance cursor for subscription %s: %w", subscriptionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cursor advance for subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// advisoryLockKey maps a subscription ID onto the int64 keyspace of
// Postgres advisory locks.
func advisoryLockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(id[:])
	return int64(h.Sum64())
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var cursorID *uuid.UUID
	var cursorTS *time.Time
	if err := row.Scan(
		&sub.ID, &sub.SubscriberID, &sub.BookID, &sub.ChunkSize,
		&cursorID, &cursorTS, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	// A deleted cursor chapter SET NULLs only the ID column; either half
	// missing means the cursor is unset and delivery resumes from the start.
	if cursorID != nil && cursorTS != nil {
		sub.Cursor = &models.Cursor{ChapterID: *cursorID, IngestedAt: *cursorTS}
	}
	return &sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]models.Subscription, error) {
	subscriptions := []models.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subscriptions = append(subscriptions, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}
	return subscriptions, nil
}
