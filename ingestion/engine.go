// Package ingestion reconciles chapters reported by sources against the
// chapter store and fills in chapter bodies after discovery.
package ingestion

import (
	"context"
	"fmt"

	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/sources"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChapterStore is the slice of the chapter repository the engine needs.
type ChapterStore interface {
	GetSourceKeys(ctx context.Context, bookID uuid.UUID) (map[string]struct{}, error)
	CreateChapters(ctx context.Context, bookID uuid.UUID, chapters []models.NewChapter) ([]models.Chapter, error)
}

// Engine discovers and persists newly published chapters.
type Engine struct {
	chapters ChapterStore
	registry *sources.Registry
	logger   zerolog.Logger
}

// NewEngine creates an ingestion engine.
func NewEngine(chapters ChapterStore, registry *sources.Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		chapters: chapters,
		registry: registry,
		logger:   logger.With().Str("component", "ingestion").Logger(),
	}
}

// Result reports one ingestion run for a book. Skipped holds per-record
// errors for malformed source items; they never abort the run.
type Result struct {
	BookID   uuid.UUID
	Inserted []models.Chapter
	Skipped  []error
}

// Ingest fetches the book's current chapter list from its source and
// persists every chapter not already stored, matched by stable source key.
// Chapters are inserted in the order the source returned them and receive
// strictly increasing ingestion timestamps, so delivery order reflects the
// order this pipeline discovered them even when the source backfills.
//
// Running Ingest twice against an unchanged source result inserts nothing:
// the source-key match (backed by a unique index) makes the run idempotent
// without trusting the source to suppress already-seen items.
//
// Bodies and EPUB artifacts are filled by separate passes that poll for
// chapters missing them, so a slow source page or converter never blocks
// discovery.
func (e *Engine) Ingest(ctx context.Context, book *models.Book) (*Result, error) {
	provider, err := e.registry.For(book.Source.Kind)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", book.ID, err)
	}

	listing, err := provider.FetchChapters(ctx, book.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapter list for book %s: %w", book.ID, err)
	}

	known, err := e.chapters.GetSourceKeys(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load known chapters for book %s: %w", book.ID, err)
	}

	result := &Result{BookID: book.ID, Skipped: listing.Malformed}
	var fresh []models.NewChapter
	for _, listed := range listing.Chapters {
		if err := listed.Source.Validate(); err != nil {
			result.Skipped = append(result.Skipped, err)
			continue
		}
		if _, ok := known[listed.Source.Key()]; ok {
			continue
		}
		fresh = append(fresh, models.NewChapter{
			BookID:      book.ID,
			Title:       listed.Title,
			Source:      listed.Source,
			PublishedAt: listed.PublishedAt,
		})
	}

	if len(fresh) == 0 {
		return result, nil
	}

	inserted, err := e.chapters.CreateChapters(ctx, book.ID, fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to persist chapters for book %s: %w", book.ID, err)
	}
	result.Inserted = inserted

	e.logger.Info().
		Str("book_id", book.ID.String()).
		Int("inserted", len(inserted)).
		Int("skipped", len(result.Skipped)).
		Msg("ingested new chapters")
	return result, nil
}
