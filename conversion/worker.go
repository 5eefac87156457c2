package conversion

import (
	"context"
	"fmt"

	"github.com/JordanSekky/cereal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookStore is the slice of the book repository the worker needs.
type BookStore interface {
	GetBookByID(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
}

// ChapterStore is the slice of the chapter repository the worker needs.
type ChapterStore interface {
	GetChaptersAwaitingConversion(ctx context.Context) ([]models.Chapter, error)
	SetChapterEPUB(ctx context.Context, chapterID uuid.UUID, epub []byte) error
}

// Worker converts hydrated chapters into EPUB artifacts. Failures are
// per-chapter; the chapter stays artifact-less and is retried on the next
// pass, and delivery does not wait for it.
type Worker struct {
	books     BookStore
	chapters  ChapterStore
	converter *Converter
	logger    zerolog.Logger
}

// NewWorker creates a conversion worker.
func NewWorker(books BookStore, chapters ChapterStore, converter *Converter, logger zerolog.Logger) *Worker {
	return &Worker{
		books:     books,
		chapters:  chapters,
		converter: converter,
		logger:    logger.With().Str("component", "conversion").Logger(),
	}
}

// Pending lists chapters with a body but no artifact.
func (w *Worker) Pending(ctx context.Context) ([]models.Chapter, error) {
	return w.chapters.GetChaptersAwaitingConversion(ctx)
}

// Convert generates and stores the EPUB artifact for one chapter.
func (w *Worker) Convert(ctx context.Context, chapter *models.Chapter) error {
	book, err := w.books.GetBookByID(ctx, chapter.BookID)
	if err != nil {
		return fmt.Errorf("failed to load book for chapter %s: %w", chapter.ID, err)
	}

	artifact, err := w.converter.ChapterEPUB(book, chapter)
	if err != nil {
		return fmt.Errorf("chapter %s: %w", chapter.ID, err)
	}

	if err := w.chapters.SetChapterEPUB(ctx, chapter.ID, artifact); err != nil {
		return err
	}

	w.logger.Info().
		Str("chapter_id", chapter.ID.String()).
		Int("bytes", len(artifact)).
		Msg("generated chapter epub")
	return nil
}
