// Package delivery computes pending chapter batches per subscription and
// dispatches them through delivery channels.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/JordanSekky/cereal/models"
)

// ErrorKind classifies a delivery failure.
type ErrorKind int

const (
	// KindTransient failures (network, provider 5xx) are retried on the
	// next scheduled pass with the identical batch.
	KindTransient ErrorKind = iota
	// KindPermanent failures (missing or rejected destination) require
	// operator intervention; the cursor is never advanced past them.
	KindPermanent
)

// Error is a classified delivery failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindPermanent {
		return fmt.Sprintf("permanent delivery failure: %v", e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a delivery failure that will not
// resolve on its own.
func IsPermanent(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindPermanent
}

// Batch is one delivery unit: consecutive pending chapters of a single book
// for a single subscriber, in ingestion order.
type Batch struct {
	Book       *models.Book
	Subscriber *models.Subscriber
	Chapters   []models.Chapter
}

// Channel transports a batch to a subscriber destination. Implementations
// must tolerate chapters whose EPUB artifact is missing, degrading to the
// raw body or a title-only notice.
type Channel interface {
	// Name identifies the channel in logs and pass outcomes.
	Name() string

	// Applies reports whether the subscriber carries this channel's
	// destination.
	Applies(sub *models.Subscriber) bool

	// Deliver sends the batch. A nil return means the provider accepted
	// the content; errors must be classified via Error.
	Deliver(ctx context.Context, batch Batch) error
}
