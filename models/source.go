package models

import (
	"fmt"
	"strconv"
)

// SourceKind names a supported chapter source integration.
type SourceKind string

const (
	SourceKindRoyalRoad SourceKind = "royalroad"
	SourceKindWordPress SourceKind = "wordpress"
)

// BookSource is the source-specific descriptor stored on a Book. It is
// persisted as JSON and is opaque to the ingestion core: only the provider
// registered for its Kind interprets the remaining fields.
type BookSource struct {
	Kind SourceKind `json:"kind"`

	// RoyalRoadBookID is the numeric fiction ID on royalroad.com.
	RoyalRoadBookID uint64 `json:"royalroadBookId,omitempty"`

	// TOCURL is the table-of-contents page of a WordPress-hosted serial.
	TOCURL string `json:"tocUrl,omitempty"`
}

// Validate reports whether the descriptor carries the fields its kind needs.
func (s BookSource) Validate() error {
	switch s.Kind {
	case SourceKindRoyalRoad:
		if s.RoyalRoadBookID == 0 {
			return fmt.Errorf("royalroad book source missing book id")
		}
	case SourceKindWordPress:
		if s.TOCURL == "" {
			return fmt.Errorf("wordpress book source missing toc url")
		}
	default:
		return fmt.Errorf("unknown book source kind %q", s.Kind)
	}
	return nil
}

// ChapterSource is the per-chapter source descriptor. Its Key is the stable
// identity used to reconcile fetched chapters against stored ones; sources
// may reorder or backfill, so titles and positions are never used for
// matching.
type ChapterSource struct {
	Kind SourceKind `json:"kind"`

	RoyalRoadChapterID uint64 `json:"royalroadChapterId,omitempty"`

	// URL is the canonical chapter page for WordPress-hosted serials.
	URL string `json:"url,omitempty"`
}

// Key returns the stable source-side identity of the chapter. Two fetches of
// the same chapter always produce the same key.
func (s ChapterSource) Key() string {
	switch s.Kind {
	case SourceKindRoyalRoad:
		return string(s.Kind) + ":" + strconv.FormatUint(s.RoyalRoadChapterID, 10)
	default:
		return string(s.Kind) + ":" + s.URL
	}
}

// Validate reports whether the descriptor carries the fields its kind needs.
func (s ChapterSource) Validate() error {
	switch s.Kind {
	case SourceKindRoyalRoad:
		if s.RoyalRoadChapterID == 0 {
			return fmt.Errorf("royalroad chapter source missing chapter id")
		}
	case SourceKindWordPress:
		if s.URL == "" {
			return fmt.Errorf("wordpress chapter source missing url")
		}
	default:
		return fmt.Errorf("unknown chapter source kind %q", s.Kind)
	}
	return nil
}
