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

// ChapterRepository handles database operations for chapters.
type ChapterRepository struct {
	db *sql.DB
}

// NewChapterRepository creates a new ChapterRepository.
func NewChapterRepository(db *sql.DB) *ChapterRepository {
	return &ChapterRepository{db: db}
}

const chapterColumns = `
	id, book_id, title, source, html, epub, published_at, ingested_at, updated_at
`

// CreateChapters inserts newly discovered chapters for a single book, in the
// order given. Each chapter receives an ingestion timestamp strictly greater
// than every chapter already stored for the book, even when the wall clock
// has not advanced between inserts; delivery ordering depends on this.
//
// The book row is locked for the duration of the transaction so concurrent
// ingestion runs for the same book cannot interleave timestamp assignment.
// Chapters whose source key already exists are skipped, not duplicated.
func (r *ChapterRepository) CreateChapters(ctx context.Context, bookID uuid.UUID, chapters []models.NewChapter) ([]models.Chapter, error) {
	if len(chapters) == 0 {
		return []models.Chapter{}, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin chapter insert transaction: %w", err)
	}
	defer tx.Rollback()

	// Serializes same-book ingestion and pins the max-timestamp read below.
	var lockedID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&lockedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("book %s not found: %w", bookID, err)
		}
		return nil, fmt.Errorf("failed to lock book %s: %w", bookID, err)
	}

	var lastIngested sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(ingested_at) FROM chapters WHERE book_id = $1`, bookID,
	).Scan(&lastIngested)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest ingestion timestamp for book %s: %w", bookID, err)
	}

	floor := time.Time{}
	if lastIngested.Valid {
		floor = lastIngested.Time
	}

	inserted := make([]models.Chapter, 0, len(chapters))
	for _, nc := range chapters {
		ingestedAt := time.Now().UTC()
		if !ingestedAt.After(floor) {
			ingestedAt = floor.Add(time.Microsecond)
		}
		floor = ingestedAt

		sourceJSON, err := json.Marshal(nc.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chapter source: %w", err)
		}

		query := `
			INSERT INTO chapters (id, book_id, title, source, source_key, html, epub, published_at, ingested_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $8)
			ON CONFLICT (book_id, source_key) DO NOTHING
			RETURNING ` + chapterColumns
		row := tx.QueryRowContext(ctx, query,
			uuid.New(), bookID, nc.Title, sourceJSON, nc.Source.Key(),
			nc.HTML, nc.PublishedAt, ingestedAt,
		)
		chapter, err := scanChapter(row)
		if err != nil {
			if err == sql.ErrNoRows {
				// Another run inserted this source key first.
				continue
			}
			return nil, fmt.Errorf("failed to insert chapter %q for book %s: %w", nc.Title, bookID, err)
		}
		inserted = append(inserted, *chapter)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chapter inserts for book %s: %w", bookID, err)
	}
	return inserted, nil
}

// GetSourceKeys returns the set of source keys already stored for a book.
// The ingestion engine matches fetched chapters against this set.
func (r *ChapterRepository) GetSourceKeys(ctx context.Context, bookID uuid.UUID) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_key FROM chapters WHERE book_id = $1`, bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query source keys for book %s: %w", bookID, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan source key row: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source key rows: %w", err)
	}
	return keys, nil
}

// GetChaptersAfter returns a book's chapters with an ingestion timestamp
// strictly greater than after, in ascending ingestion order. A nil after
// returns chapters from the beginning. limit <= 0 means no limit.
func (r *ChapterRepository) GetChaptersAfter(ctx context.Context, bookID uuid.UUID, after *time.Time, limit int) ([]models.Chapter, error) {
	query := `
		SELECT ` + chapterColumns + `
		FROM chapters
		WHERE book_id = $1 AND ($2::timestamptz IS NULL OR ingested_at > $2)
		ORDER BY ingested_at ASC
	`
	args := []any{bookID, after}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending chapters for book %s: %w", bookID, err)
	}
	defer rows.Close()
	return collectChapters(rows)
}

// GetChapterByID retrieves a single chapter.
func (r *ChapterRepository) GetChapterByID(ctx context.Context, chapterID uuid.UUID) (*models.Chapter, error) {
	query := `SELECT ` + chapterColumns + ` FROM chapters WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, chapterID)
	chapter, err := scanChapter(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chapter %s not found: %w", chapterID, err)
		}
		return nil, fmt.Errorf("failed to get chapter %s: %w", chapterID, err)
	}
	return chapter, nil
}

// GetChaptersByBookID retrieves all chapters for a book in ingestion order.
func (r *ChapterRepository) GetChaptersByBookID(ctx context.Context, bookID uuid.UUID) ([]models.Chapter, error) {
	query := `
		SELECT ` + chapterColumns + `
		FROM chapters
		WHERE book_id = $1
		ORDER BY ingested_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters for book %s: %w", bookID, err)
	}
	defer rows.Close()
	return collectChapters(rows)
}

// GetChaptersWithoutBody returns chapters whose raw HTML body has not been
// fetched yet, oldest first so hydration catches up in ingestion order.
func (r *ChapterRepository) GetChaptersWithoutBody(ctx context.Context) ([]models.Chapter, error) {
	query := `
		SELECT ` + chapterColumns + `
		FROM chapters
		WHERE html IS NULL
		ORDER BY ingested_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query bodiless chapters: %w", err)
	}
	defer rows.Close()
	return collectChapters(rows)
}

// GetChaptersAwaitingConversion returns chapters that have a body but no
// converted artifact yet.
func (r *ChapterRepository) GetChaptersAwaitingConversion(ctx context.Context) ([]models.Chapter, error) {
	query := `
		SELECT ` + chapterColumns + `
		FROM chapters
		WHERE html IS NOT NULL AND epub IS NULL
		ORDER BY ingested_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters awaiting conversion: %w", err)
	}
	defer rows.Close()
	return collectChapters(rows)
}

// SetChapterHTML stores a chapter's fetched body.
func (r *ChapterRepository) SetChapterHTML(ctx context.Context, chapterID uuid.UUID, html []byte) error {
	query := `UPDATE chapters SET html = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, chapterID, html, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set html for chapter %s: %w", chapterID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chapter %s not found", chapterID)
	}
	return nil
}

// SetChapterEPUB stores a chapter's converted artifact.
func (r *ChapterRepository) SetChapterEPUB(ctx context.Context, chapterID uuid.UUID, epub []byte) error {
	query := `UPDATE chapters SET epub = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, chapterID, epub, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set epub for chapter %s: %w", chapterID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chapter %s not found", chapterID)
	}
	return nil
}

// DeleteChapter removes a chapter. Any subscription cursor pointing at it is
// reset to null by the schema's SET NULL rule.
func (r *ChapterRepository) DeleteChapter(ctx context.Context, chapterID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chapters WHERE id = $1`, chapterID); err != nil {
		return fmt.Errorf("failed to delete chapter %s: %w", chapterID, err)
	}
	return nil
}

func scanChapter(row rowScanner) (*models.Chapter, error) {
	var chapter models.Chapter
	var sourceJSON []byte
	if err := row.Scan(
		&chapter.ID, &chapter.BookID, &chapter.Title, &sourceJSON,
		&chapter.HTML, &chapter.EPUB, &chapter.PublishedAt,
		&chapter.IngestedAt, &chapter.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sourceJSON, &chapter.Source); err != nil {
		return nil, fmt.Errorf("failed to decode chapter source: %w", err)
	}
	return &chapter, nil
}

func collectChapters(rows *sql.Rows) ([]models.Chapter, error) {
	chapters := []models.Chapter{}
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chapter row: %w", err)
		}
		chapters = append(chapters, *chapter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chapter rows: %w", err)
	}
	return chapters, nil
}
