package routehandlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JordanSekky/cereal/datastore"
	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/webutil"
)

type BookHandler struct {
	Repo *datastore.BookRepository
}

func NewBookHandler(repo *datastore.BookRepository) *BookHandler {
	return &BookHandler{Repo: repo}
}

type createBookRequest struct {
	Title  string            `json:"title"`
	Author string            `json:"author"`
	Source models.BookSource `json:"source"`
}

func (h *BookHandler) HandleCreateBook(w http.ResponseWriter, r *http.Request) error {
	var req createBookRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	if req.Title == "" || req.Author == "" {
		return webutil.ErrBadRequest("Missing required fields (title, author)")
	}
	if err := req.Source.Validate(); err != nil {
		return webutil.ErrBadRequest("Invalid book source: " + err.Error())
	}

	now := time.Now().UTC()
	newBook := models.Book{
		ID:        uuid.New(),
		Title:     req.Title,
		Author:    req.Author,
		Source:    req.Source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.Repo.CreateBook(r.Context(), &newBook); err != nil {
		return fmt.Errorf("failed to create book %q: %w", req.Title, err)
	}

	webutil.RespondWithJSON(w, http.StatusCreated, newBook)
	return nil
}

func (h *BookHandler) HandleGetBooks(w http.ResponseWriter, r *http.Request) error {
	books, err := h.Repo.GetBooks(r.Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve books: %w", err)
	}
	if books == nil {
		books = []models.Book{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, books)
	return nil
}

func (h *BookHandler) HandleGetBook(w http.ResponseWriter, r *http.Request) error {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid book ID format")
	}

	book, err := h.Repo.GetBookByID(r.Context(), bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Book not found")
		}
		return fmt.Errorf("failed to retrieve book %s: %w", bookID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, book)
	return nil
}

type updateBookRequest struct {
	Title  *string `json:"title"`
	Author *string `json:"author"`
}

func (h *BookHandler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) error {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid book ID format")
	}

	var req updateBookRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	if req.Title == nil && req.Author == nil {
		return webutil.ErrBadRequest("No updatable fields provided")
	}
	if req.Title != nil && *req.Title == "" {
		return webutil.ErrBadRequest("Title cannot be empty")
	}
	if req.Author != nil && *req.Author == "" {
		return webutil.ErrBadRequest("Author cannot be empty")
	}

	book, err := h.Repo.UpdateBook(r.Context(), bookID, req.Title, req.Author)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Book not found")
		}
		return fmt.Errorf("failed to update book %s: %w", bookID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, book)
	return nil
}

// Deleting a book cascades to its chapters and subscriptions.
func (h *BookHandler) HandleDeleteBook(w http.ResponseWriter, r *http.Request) error {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid book ID format")
	}

	if err := h.Repo.DeleteBook(r.Context(), bookID); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", bookID, err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
