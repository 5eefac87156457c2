package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanSekky/cereal/models"
)

const royalRoadFeedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Mother of Learning</title>
    <link>https://www.royalroad.com/fiction/21220/mother-of-learning</link>
    <item>
      <title>Mother of Learning - 1. Good Morning Brother</title>
      <link>https://www.royalroad.com/fiction/21220/mother-of-learning/chapter/301778</link>
      <pubDate>Mon, 02 Jan 2017 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Mother of Learning - 2. Life&#39;s Little Problems</title>
      <link>https://www.royalroad.com/fiction/21220/mother-of-learning/chapter/301780</link>
      <pubDate>Tue, 03 Jan 2017 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>An item with no separator</title>
      <link>https://www.royalroad.com/fiction/21220/mother-of-learning/chapter/301781</link>
    </item>
    <item>
      <title>Mother of Learning - 3. The Bitter Truth</title>
      <link>https://www.royalroad.com/fiction/21220/mother-of-learning/chapter/not-a-number</link>
    </item>
  </channel>
</rss>`

const royalRoadChapterFixture = `<!DOCTYPE html>
<html><body>
<div class="portlet">navigation junk</div>
<div class="chapter-inner chapter-content">
<p>Zorian opened his eyes.</p>
<p>His brother was shaking him awake.</p>
</div>
</body></html>`

func newRoyalRoadServer(t *testing.T, feedStatus, chapterStatus int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/syndication/21220":
			if feedStatus != http.StatusOK {
				w.WriteHeader(feedStatus)
				return
			}
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, royalRoadFeedFixture)
		case r.URL.Path == "/fiction/chapter/301778":
			if chapterStatus != http.StatusOK {
				w.WriteHeader(chapterStatus)
				return
			}
			fmt.Fprint(w, royalRoadChapterFixture)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRoyalRoadFetchChapters(t *testing.T) {
	server := newRoyalRoadServer(t, http.StatusOK, http.StatusOK)
	provider := NewRoyalRoadProvider(server.Client())
	provider.BaseURL = server.URL

	listing, err := provider.FetchChapters(context.Background(),
		models.BookSource{Kind: models.SourceKindRoyalRoad, RoyalRoadBookID: 21220})
	require.NoError(t, err)

	require.Len(t, listing.Chapters, 2)
	assert.Equal(t, "1. Good Morning Brother", listing.Chapters[0].Title)
	assert.Equal(t, uint64(301778), listing.Chapters[0].Source.RoyalRoadChapterID)
	assert.Equal(t, "royalroad:301778", listing.Chapters[0].Source.Key())
	require.NotNil(t, listing.Chapters[0].PublishedAt)

	assert.Equal(t, "2. Life's Little Problems", listing.Chapters[1].Title)

	// The separator-less title and the non-numeric chapter link are
	// reported, not dropped silently, and abort nothing.
	assert.Len(t, listing.Malformed, 2)
}

func TestRoyalRoadFetchChaptersServerError(t *testing.T) {
	server := newRoyalRoadServer(t, http.StatusInternalServerError, http.StatusOK)
	provider := NewRoyalRoadProvider(server.Client())
	provider.BaseURL = server.URL

	_, err := provider.FetchChapters(context.Background(),
		models.BookSource{Kind: models.SourceKindRoyalRoad, RoyalRoadBookID: 21220})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRoyalRoadFetchChaptersMissingFictionID(t *testing.T) {
	provider := NewRoyalRoadProvider(nil)

	_, err := provider.FetchChapters(context.Background(),
		models.BookSource{Kind: models.SourceKindRoyalRoad})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestRoyalRoadFetchChapterBody(t *testing.T) {
	server := newRoyalRoadServer(t, http.StatusOK, http.StatusOK)
	provider := NewRoyalRoadProvider(server.Client())
	provider.BaseURL = server.URL

	body, err := provider.FetchChapterBody(context.Background(),
		models.ChapterSource{Kind: models.SourceKindRoyalRoad, RoyalRoadChapterID: 301778})
	require.NoError(t, err)

	assert.Contains(t, string(body), "Zorian opened his eyes.")
	assert.Contains(t, string(body), "chapter-inner")
	assert.NotContains(t, string(body), "navigation junk")
}

func TestRoyalRoadFetchChapterBodyStatuses(t *testing.T) {
	t.Run("server error is transient", func(t *testing.T) {
		server := newRoyalRoadServer(t, http.StatusOK, http.StatusBadGateway)
		provider := NewRoyalRoadProvider(server.Client())
		provider.BaseURL = server.URL

		_, err := provider.FetchChapterBody(context.Background(),
			models.ChapterSource{Kind: models.SourceKindRoyalRoad, RoyalRoadChapterID: 301778})
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})

	t.Run("not found is a format error", func(t *testing.T) {
		server := newRoyalRoadServer(t, http.StatusOK, http.StatusNotFound)
		provider := NewRoyalRoadProvider(server.Client())
		provider.BaseURL = server.URL

		_, err := provider.FetchChapterBody(context.Background(),
			models.ChapterSource{Kind: models.SourceKindRoyalRoad, RoyalRoadChapterID: 301778})
		require.Error(t, err)
		var formatErr *FormatError
		assert.True(t, errors.As(err, &formatErr))
	})
}

func TestRoyalRoadChapterIDFromLink(t *testing.T) {
	id, err := royalRoadChapterIDFromLink("https://www.royalroad.com/fiction/21220/mol/chapter/301778")
	require.NoError(t, err)
	assert.Equal(t, uint64(301778), id)

	_, err = royalRoadChapterIDFromLink("https://www.royalroad.com/fiction/21220/mol/chapter/")
	require.Error(t, err)

	_, err = royalRoadChapterIDFromLink("no-slashes-at-all")
	require.Error(t, err)
}
