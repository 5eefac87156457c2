package models

import (
	"time"

	"github.com/google/uuid"
)

// Cursor marks the last chapter successfully delivered for a subscription.
// A nil *Cursor means nothing has been delivered yet (or the cursor chapter
// was deleted, which means "resume from the beginning"). The chapter ID and
// its ingestion timestamp travel together so neither can be set alone.
type Cursor struct {
	ChapterID  uuid.UUID `json:"chapterId"`
	IngestedAt time.Time `json:"ingestedAt"`
}

// Subscription is a subscriber's standing interest in a book. The cursor is
// mutated only by the delivery scheduler; chunk size only administratively.
type Subscription struct {
	ID           uuid.UUID `json:"id"`
	SubscriberID uuid.UUID `json:"subscriberId"`
	BookID       uuid.UUID `json:"bookId"`

	// ChunkSize is the maximum number of chapters delivered per evaluation.
	// Always >= 1.
	ChunkSize int `json:"chunkSize"`

	Cursor *Cursor `json:"cursor,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
