package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/JordanSekky/cereal/models"
	"github.com/google/uuid"
)

// SubscriberRepository handles database operations for subscribers.
type SubscriberRepository struct {
	db *sql.DB
}

// NewSubscriberRepository creates a new SubscriberRepository.
func NewSubscriberRepository(db *sql.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// CreateSubscriber inserts a new subscriber record.
func (r *SubscriberRepository) CreateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	if sub.Name == "" {
		return fmt.Errorf("missing required fields for creating subscriber")
	}
	query := `
		INSERT INTO subscribers (id, name, kindle_email, pushover_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		sub.ID, sub.Name, sub.KindleEmail, sub.PushoverKey, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscriber: %w", err)
	}
	return nil
}

// GetSubscriberByID retrieves a subscriber by ID.
func (r *SubscriberRepository) GetSubscriberByID(ctx context.Context, subscriberID uuid.UUID) (*models.Subscriber, error) {
	query := `
		SELECT id, name, kindle_email, pushover_key, created_at, updated_at
		FROM subscribers
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, subscriberID)
	sub, err := scanSubscriber(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subscriber %s not found: %w", subscriberID, err)
		}
		return nil, fmt.Errorf("failed to get subscriber %s: %w", subscriberID, err)
	}
	return sub, nil
}

// GetSubscribers retrieves all subscribers.
func (r *SubscriberRepository) GetSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	query := `
		SELECT id, name, kindle_email, pushover_key, created_at, updated_at
		FROM subscribers
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []models.Subscriber{}
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		subscribers = append(subscribers, *sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriber rows: %w", err)
	}
	return subscribers, nil
}

// UpdateSubscriber updates a subscriber's name and destinations. Nil
// arguments leave the existing value untouched.
func (r *SubscriberRepository) UpdateSubscriber(ctx context.Context, subscriberID uuid.UUID, name, kindleEmail, pushoverKey *string) (*models.Subscriber, error) {
	query := `
		UPDATE subscribers
		SET name = COALESCE($2, name),
		    kindle_email = COALESCE($3, kindle_email),
		    pushover_key = COALESCE($4, pushover_key),
		    updated_at = $5
		WHERE id = $1
		RETURNING id, name, kindle_email, pushover_key, created_at, updated_at
	`
	row := r.db.QueryRowContext(ctx, query, subscriberID, name, kindleEmail, pushoverKey, time.Now().UTC())
	sub, err := scanSubscriber(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subscriber %s not found: %w", subscriberID, err)
		}
		return nil, fmt.Errorf("failed to update subscriber %s: %w", subscriberID, err)
	}
	return sub, nil
}

// DeleteSubscriber removes a subscriber; their subscriptions cascade.
func (r *SubscriberRepository) DeleteSubscriber(ctx context.Context, subscriberID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = $1`, subscriberID); err != nil {
		return fmt.Errorf("failed to delete subscriber %s: %w", subscriberID, err)
	}
	return nil
}

func scanSubscriber(row rowScanner) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := row.Scan(
		&sub.ID, &sub.Name, &sub.KindleEmail, &sub.PushoverKey,
		&sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sub, nil
}
