package ingestion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/sources"
)

// fakeChapterStore persists chapters in memory with the same semantics the
// repository provides: source-key reconciliation and strictly increasing
// ingestion timestamps per book.
type fakeChapterStore struct {
	chapters []models.Chapter
}

func (f *fakeChapterStore) GetSourceKeys(ctx context.Context, bookID uuid.UUID) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	for _, c := range f.chapters {
		if c.BookID == bookID {
			keys[c.Source.Key()] = struct{}{}
		}
	}
	return keys, nil
}

func (f *fakeChapterStore) CreateChapters(ctx context.Context, bookID uuid.UUID, chapters []models.NewChapter) ([]models.Chapter, error) {
	var floor time.Time
	for _, c := range f.chapters {
		if c.BookID == bookID && c.IngestedAt.After(floor) {
			floor = c.IngestedAt
		}
	}

	var inserted []models.Chapter
	for _, nc := range chapters {
		ingestedAt := time.Now().UTC()
		if !ingestedAt.After(floor) {
			ingestedAt = floor.Add(time.Microsecond)
		}
		floor = ingestedAt
		chapter := models.Chapter{
			ID:          uuid.New(),
			BookID:      nc.BookID,
			Title:       nc.Title,
			Source:      nc.Source,
			PublishedAt: nc.PublishedAt,
			IngestedAt:  ingestedAt,
		}
		f.chapters = append(f.chapters, chapter)
		inserted = append(inserted, chapter)
	}
	return inserted, nil
}

// fakeProvider serves a scripted chapter listing.
type fakeProvider struct {
	kind    models.SourceKind
	listing sources.Listing
	err     error
	fetches int
}

func (p *fakeProvider) Kind() models.SourceKind { return p.kind }

func (p *fakeProvider) FetchChapters(ctx context.Context, src models.BookSource) (sources.Listing, error) {
	p.fetches++
	if p.err != nil {
		return sources.Listing{}, p.err
	}
	return p.listing, nil
}

func (p *fakeProvider) FetchChapterBody(ctx context.Context, src models.ChapterSource) ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}

func royalRoadListing(ids ...uint64) sources.Listing {
	var listing sources.Listing
	for _, id := range ids {
		listing.Chapters = append(listing.Chapters, sources.ChapterListing{
			Title:  fmt.Sprintf("Chapter %d", id),
			Source: models.ChapterSource{Kind: models.SourceKindRoyalRoad, RoyalRoadChapterID: id},
		})
	}
	return listing
}

func newTestEngine(provider *fakeProvider) (*Engine, *fakeChapterStore) {
	store := &fakeChapterStore{}
	return NewEngine(store, sources.NewRegistry(provider), zerolog.Nop()), store
}

func TestIngestPersistsNewChapters(t *testing.T) {
	provider := &fakeProvider{kind: models.SourceKindRoyalRoad, listing: royalRoadListing(11, 12, 13)}
	engine, store := newTestEngine(provider)
	book := &models.Book{ID: uuid.New(), Source: models.BookSource{Kind: models.SourceKindRoyalRoad, RoyalRoadBookID: 5}}

	result, err := engine.Ingest(context.Background(), book)
	require.NoError(t, err)
	assert.Len(t, result.Inserted, 3)
	assert.Empty(t, result.Skipped)
	assert.Len(t, store.chapters, 3)
}

func TestIngestIsIdempotent(t *testing.T) {
	provider := &fakeProvider{kind: models.SourceKindRoyalRoad, listing: royalRoadListing(11, 12, 13)}
	engine, store := newTestEngine(provider)
	book := &models.Book{ID: uuid.New(), Source: models.BookSource{Kind: models.SourceKindRoyalRoad, RoyalRoadBookID: 5}}
	ctx := context.Background()

	_, err := engine.Ingest(ctx, book)
	require.NoError(t, err)

	result, err := engine.Ingest(ctx, book)
	require.NoError(t, err)
	assert.Empty(t, result.Inserted, "unchanged source must insert nothing")
	assert.Len(t, store.chapters, 3)
}

func TestIngestBackfillOrderedAfterExisting(t *testing.T) {
	provider := &fakeProvider{kind: models.SourceKindRoyalRoad, listing: royalRoadListing(12, 13)}
	engine, store := newTestEngine(provider)
	book := &models.Book{ID: uuid.New(), Source: models.BookSource{Kind: models.SourceKindRoyalRoad, RoyalRoadBookID: 5}}
	ctx := context.Background()

	_, err := engine.Ingest(ctx, book)
	require.NoError(t, err)

	// The source backfills an earlier chapter; it must be ingested after
	// the chapters already stored, never between them.
	provider.listing = royalRoadListing(11, 12, 13)
	result, err := engine.Ingest(ctx, book)
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)
	assert.Equal(t, "Chapter 11", result.Inserted[0].Title)

	backfilled := result.Inserted[0]
	for _, c := range store.chapters {
		if c.ID == backfilled.ID {
			continue
		}
		assert.True(t, backfilled.IngestedAt.After(c.IngestedAt),
			"backfilled chapter must order after previously ingested ones")
	}
}

func TestIngestSkipsMalformedListings(t *testing.T) {
	listing := royalRoadListing(11)
	// A listing whose source descriptor fails validation.
	listing.Chapters = append(listing.Chapters, sources.ChapterListing{
		Title:  "Broken",
		Source: models.ChapterSource{Kind: models.SourceKindRoyalRoad},
	})
	listing.Malformed = append(listing.Malformed, fmt.Errorf("feed item missing link"))

	provider := &fakeProvider{kind: models.SourceKindRoyalRoad, listing: listing}
	engine, store := newTestEngine(provider)
	book := &models.Book{ID: uuid.New(), Source: models.BookSource{Kind: models.SourceKindRoyalRoad, RoyalRoadBookID: 5}}

	result, err := engine.Ingest(context.Background(), book)
	require.NoError(t, err)
	assert.Len(t, result.Inserted, 1)
	assert.Len(t, result.Skipped, 2)
	assert.Len(t, store.chapters, 1)
}

func TestIngestUnknownSourceKind(t *testing.T) {
	provider := &fakeProvider{kind: models.SourceKindRoyalRoad, listing: royalRoadListing(11)}
	engine, _ := newTestEngine(provider)
	book := &models.Book{ID: uuid.New(), Source: models.BookSource{Kind: "scribblehub"}}

	_, err := engine.Ingest(context.Background(), book)
	require.Error(t, err)
	assert.Zero(t, provider.fetches)
}

func TestIngestFetchFailurePropagates(t *testing.T) {
	provider := &fakeProvider{
		kind: models.SourceKindRoyalRoad,
		err:  &sources.FetchError{Err: fmt.Errorf("connection refused")},
	}
	engine, _ := newTestEngine(provider)
	book := &models.Book{ID: uuid.New(), Source: models.BookSource{Kind: models.SourceKindRoyalRoad, RoyalRoadBookID: 5}}

	_, err := engine.Ingest(context.Background(), book)
	require.Error(t, err)
	assert.True(t, sources.IsTransient(err))
}
