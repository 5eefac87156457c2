package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscriber is a recipient. At least one destination should be present for
// delivery to succeed, but the pipeline does not enforce it; a subscriber
// with neither destination surfaces as a misconfigured delivery.
type Subscriber struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	KindleEmail *string   `json:"kindleEmail,omitempty"`
	PushoverKey *string   `json:"pushoverKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
