package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JordanSekky/cereal/models"
	"github.com/google/uuid"
)

// BookRepository handles database operations for books.
type BookRepository struct {
	db *sql.DB
}

// NewBookRepository creates a new BookRepository.
func NewBookRepository(db *sql.DB) *BookRepository {
	return &BookRepository{db: db}
}

// CreateBook inserts a new book record.
func (r *BookRepository) CreateBook(ctx context.Context, book *models.Book) error {
	if book.Title == "" || book.Author == "" {
		return fmt.Errorf("missing required fields for creating book")
	}
	sourceJSON, err := json.Marshal(book.Source)
	if err != nil {
		return fmt.Errorf("failed to encode book source: %w", err)
	}

	query := `
		INSERT INTO books (id, title, author, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		book.ID, book.Title, book.Author, sourceJSON, book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// GetBookByID retrieves a book by its ID. Returns sql.ErrNoRows wrapped if
// no book exists.
func (r *BookRepository) GetBookByID(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	query := `
		SELECT id, title, author, source, created_at, updated_at
		FROM books
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, bookID)
	book, err := scanBook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("book %s not found: %w", bookID, err)
		}
		return nil, fmt.Errorf("failed to get book %s: %w", bookID, err)
	}
	return book, nil
}

// GetBooks retrieves all tracked books.
func (r *BookRepository) GetBooks(ctx context.Context) ([]models.Book, error) {
	query := `
		SELECT id, title, author, source, created_at, updated_at
		FROM books
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}
		books = append(books, *book)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book rows: %w", err)
	}
	return books, nil
}

// UpdateBook updates a book's title and/or author. Nil arguments leave the
// existing value untouched.
func (r *BookRepository) UpdateBook(ctx context.Context, bookID uuid.UUID, title, author *string) (*models.Book, error) {
	query := `
		UPDATE books
		SET title = COALESCE($2, title),
		    author = COALESCE($3, author),
		    updated_at = $4
		WHERE id = $1
		RETURNING id, title, author, source, created_at, updated_at
	`
	row := r.db.QueryRowContext(ctx, query, bookID, title, author, time.Now().UTC())
	book, err := scanBook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("book %s not found: %w", bookID, err)
		}
		return nil, fmt.Errorf("failed to update book %s: %w", bookID, err)
	}
	return book, nil
}

// DeleteBook removes a book. Chapters and subscriptions referencing it are
// removed by the schema's cascade rules.
func (r *BookRepository) DeleteBook(ctx context.Context, bookID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, bookID); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", bookID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*models.Book, error) {
	var book models.Book
	var sourceJSON []byte
	if err := row.Scan(
		&book.ID, &book.Title, &book.Author, &sourceJSON,
		&book.CreatedAt, &book.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sourceJSON, &book.Source); err != nil {
		return nil, fmt.Errorf("failed to decode book source: %w", err)
	}
	return &book, nil
}
