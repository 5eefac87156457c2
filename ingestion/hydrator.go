package ingestion

import (
	"context"
	"fmt"

	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/sources"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HydrationStore is the slice of the chapter repository the hydrator needs.
type HydrationStore interface {
	GetChaptersWithoutBody(ctx context.Context) ([]models.Chapter, error)
	SetChapterHTML(ctx context.Context, chapterID uuid.UUID, html []byte) error
}

// Hydrator fetches raw bodies for chapters discovered without one. Discovery
// records chapters from cheap feed fetches; pulling each chapter page is a
// separate, slower pass.
type Hydrator struct {
	chapters HydrationStore
	registry *sources.Registry
	logger   zerolog.Logger
}

// NewHydrator creates a Hydrator.
func NewHydrator(chapters HydrationStore, registry *sources.Registry, logger zerolog.Logger) *Hydrator {
	return &Hydrator{
		chapters: chapters,
		registry: registry,
		logger:   logger.With().Str("component", "hydration").Logger(),
	}
}

// Pending lists chapters still missing a body.
func (h *Hydrator) Pending(ctx context.Context) ([]models.Chapter, error) {
	return h.chapters.GetChaptersWithoutBody(ctx)
}

// Hydrate fetches and stores one chapter's body.
func (h *Hydrator) Hydrate(ctx context.Context, chapter *models.Chapter) error {
	provider, err := h.registry.For(chapter.Source.Kind)
	if err != nil {
		return fmt.Errorf("chapter %s: %w", chapter.ID, err)
	}

	body, err := provider.FetchChapterBody(ctx, chapter.Source)
	if err != nil {
		return fmt.Errorf("failed to fetch body for chapter %s: %w", chapter.ID, err)
	}

	if err := h.chapters.SetChapterHTML(ctx, chapter.ID, body); err != nil {
		return err
	}

	h.logger.Info().
		Str("chapter_id", chapter.ID.String()).
		Int("bytes", len(body)).
		Msg("hydrated chapter body")
	return nil
}
