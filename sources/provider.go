// Package sources contains the per-source integrations that retrieve a
// book's current chapter list and individual chapter bodies.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JordanSekky/cereal/models"
)

// ChapterListing is a chapter as reported by a source, before ingestion.
// The Source field carries the stable key used for reconciliation.
type ChapterListing struct {
	Title       string
	Source      models.ChapterSource
	PublishedAt *time.Time
}

// Listing is the outcome of one chapter-list fetch. Individual malformed
// records land in Malformed so a single bad item never hides the rest of
// the fetch; callers report them attributed to the book being ingested.
type Listing struct {
	Chapters  []ChapterListing
	Malformed []error
}

// Provider is a source integration. Callers must not assume the returned
// chapter order matches publication order; sources reorder and backfill.
type Provider interface {
	Kind() models.SourceKind

	// FetchChapters returns the book's current chapter list as known to
	// the source.
	FetchChapters(ctx context.Context, src models.BookSource) (Listing, error)

	// FetchChapterBody retrieves one chapter's raw HTML body.
	FetchChapterBody(ctx context.Context, src models.ChapterSource) ([]byte, error)
}

// FetchError is a transient failure talking to a source (network error,
// timeout, 5xx). The run aborts for that book only and is retried with
// backoff on a later pass.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("source fetch failed: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// FormatError is a malformed source response or record. It is a data error,
// not retried by backoff: the source returned something we cannot interpret.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return fmt.Sprintf("malformed source data: %v", e.Err) }
func (e *FormatError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff rather
// than flagged as a data problem.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Registry resolves the provider for a book's source kind.
type Registry struct {
	providers map[models.SourceKind]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[models.SourceKind]Provider, len(providers))
	for _, p := range providers {
		m[p.Kind()] = p
	}
	return &Registry{providers: m}
}

// For returns the provider registered for kind.
func (r *Registry) For(kind models.SourceKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no source provider registered for kind %q", kind)
	}
	return p, nil
}
