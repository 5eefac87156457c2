package routehandlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JordanSekky/cereal/datastore"
	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/webutil"
)

// ChapterHandler exposes read and delete access to ingested chapters.
// Chapters are created only by the ingestion engine, never over the API.
type ChapterHandler struct {
	Books    *datastore.BookRepository
	Chapters *datastore.ChapterRepository
}

func NewChapterHandler(books *datastore.BookRepository, chapters *datastore.ChapterRepository) *ChapterHandler {
	return &ChapterHandler{Books: books, Chapters: chapters}
}

// HandleGetBookChapters lists a book's chapters in ingestion order.
func (h *ChapterHandler) HandleGetBookChapters(w http.ResponseWriter, r *http.Request) error {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid book ID format")
	}

	if _, err := h.Books.GetBookByID(r.Context(), bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Book not found")
		}
		return fmt.Errorf("failed to retrieve book %s: %w", bookID, err)
	}

	chapters, err := h.Chapters.GetChaptersByBookID(r.Context(), bookID)
	if err != nil {
		return fmt.Errorf("failed to retrieve chapters for book %s: %w", bookID, err)
	}
	if chapters == nil {
		chapters = []models.Chapter{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, chapters)
	return nil
}

func (h *ChapterHandler) HandleGetChapter(w http.ResponseWriter, r *http.Request) error {
	chapterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid chapter ID format")
	}

	chapter, err := h.Chapters.GetChapterByID(r.Context(), chapterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Chapter not found")
		}
		return fmt.Errorf("failed to retrieve chapter %s: %w", chapterID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, chapter)
	return nil
}

// HandleDeleteChapter removes a chapter. Cursors pointing at it are nulled
// by the schema, which makes the affected subscriptions resume from the
// beginning of the book on their next evaluation.
func (h *ChapterHandler) HandleDeleteChapter(w http.ResponseWriter, r *http.Request) error {
	chapterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid chapter ID format")
	}

	if err := h.Chapters.DeleteChapter(r.Context(), chapterID); err != nil {
		return fmt.Errorf("failed to delete chapter %s: %w", chapterID, err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
