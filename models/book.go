package models

import (
	"time"

	"github.com/google/uuid"
)

// Book is a tracked serialized work. Its Source field identifies which
// provider discovers chapters for it and carries the source-side key.
type Book struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	Source    BookSource `json:"source"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
