package models

import (
	"time"

	"github.com/google/uuid"
)

// Chapter is one unit of content belonging to a Book.
//
// IngestedAt is assigned at insert time and is strictly increasing within a
// book; it is the field chapters are ordered by for delivery. PublishedAt is
// whatever the source reported and is unreliable for ordering, since sources
// backfill older chapters after newer ones are already visible.
type Chapter struct {
	ID     uuid.UUID     `json:"id"`
	BookID uuid.UUID     `json:"bookId"`
	Title  string        `json:"title"`
	Source ChapterSource `json:"source"`

	// HTML is the raw chapter body. Nil until the hydration pass fills it.
	HTML []byte `json:"-"`

	// EPUB is the delivery-ready artifact. Nil means conversion is pending
	// or has failed; such chapters are still eligible for delivery.
	EPUB []byte `json:"-"`

	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	IngestedAt  time.Time  `json:"ingestedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewChapter is a chapter as reported by a source provider, before it has
// been persisted and assigned an identity and ingestion timestamp.
type NewChapter struct {
	BookID      uuid.UUID
	Title       string
	Source      ChapterSource
	HTML        []byte
	PublishedAt *time.Time
}
