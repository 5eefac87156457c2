package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanSekky/cereal/models"
)

const wordPressChapterFixture = `<!DOCTYPE html>
<html><body>
<article>
<div class="entry-content">
<p><a href="/prev">Previous Chapter</a></p>
<p>Lucy stared at the dark water.</p>
<p>The forest was quiet.</p>
<div id="jp-post-flair">Share this: Twitter Facebook</div>
<p><a href="/next">Next Chapter</a></p>
</div>
</article>
</body></html>`

func wordPressFeedFixture(chapterURL string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Pale</title>
    <link>https://palewebserial.wordpress.com</link>
    <item>
      <title>Blood Run Cold - 0.0</title>
      <link>%s</link>
      <pubDate>Sat, 02 May 2020 04:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Blood Run Cold - 0.1</title>
      <link>%s?p=2</link>
      <pubDate>not a real date</pubDate>
    </item>
    <item>
      <title>A post with no link</title>
    </item>
  </channel>
</rss>`, chapterURL, chapterURL)
}

func newWordPressServer(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, wordPressFeedFixture(server.URL+"/2020/05/02/blood-run-cold-0-0"))
		case "/2020/05/02/blood-run-cold-0-0":
			fmt.Fprint(w, wordPressChapterFixture)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWordPressFetchChapters(t *testing.T) {
	server := newWordPressServer(t)
	provider := NewWordPressProvider(server.Client())

	listing, err := provider.FetchChapters(context.Background(),
		models.BookSource{Kind: models.SourceKindWordPress, TOCURL: server.URL + "/feed"})
	require.NoError(t, err)

	require.Len(t, listing.Chapters, 2)
	first := listing.Chapters[0]
	assert.Equal(t, "Blood Run Cold - 0.0", first.Title)
	assert.Equal(t, server.URL+"/2020/05/02/blood-run-cold-0-0", first.Source.URL)
	assert.Equal(t, "wordpress:"+first.Source.URL, first.Source.Key())
	require.NotNil(t, first.PublishedAt)

	// The second item's pubDate is unparseable; the chapter is still
	// listed, just without a published time.
	assert.Nil(t, listing.Chapters[1].PublishedAt)

	// The link-less item is reported, not dropped silently.
	assert.Len(t, listing.Malformed, 1)
}

func TestWordPressFetchChapterBody(t *testing.T) {
	server := newWordPressServer(t)
	provider := NewWordPressProvider(server.Client())

	body, err := provider.FetchChapterBody(context.Background(), models.ChapterSource{
		Kind: models.SourceKindWordPress,
		URL:  server.URL + "/2020/05/02/blood-run-cold-0-0",
	})
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "Lucy stared at the dark water.")
	assert.Contains(t, text, "The forest was quiet.")
	assert.NotContains(t, text, "jp-post-flair")
	assert.NotContains(t, text, "Next Chapter")
	assert.NotContains(t, text, "Previous Chapter")
}

func TestWordPressFetchChapterBodyReadabilityFallback(t *testing.T) {
	// A theme without the standard entry-content markup.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!DOCTYPE html>
<html><head><title>Chapter 1 | Some Serial</title></head><body>
<main><article>
<h1>Chapter 1</h1>
<p>It was a dark and stormy night, and the rain fell in torrents, drumming
against the windows of the old house on the hill until the glass seemed
ready to give way. The wind worked at the shutters with patient fingers,
prying and releasing, prying and releasing, a rhythm old enough that the
house had long since stopped complaining about it.</p>
<p>Somewhere in the distance a dog barked, long and mournful, at nothing in
particular. The sound carried across the valley and faded into the hiss of
rain on the fields, and for a while there was nothing else, no cars on the
road, no voices, only the storm settling in for the night like a guest who
intended to stay.</p>
<p>She closed the book and listened to the storm instead, counting the
seconds between the lightning and the thunder the way her grandmother had
taught her, and the count grew shorter each time.</p>
</article></main>
</body></html>`)
	}))
	t.Cleanup(server.Close)
	provider := NewWordPressProvider(server.Client())

	body, err := provider.FetchChapterBody(context.Background(), models.ChapterSource{
		Kind: models.SourceKindWordPress,
		URL:  server.URL + "/chapter-1",
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), "dark and stormy night")
}

func TestWordPressFetchChaptersMissingFeedURL(t *testing.T) {
	provider := NewWordPressProvider(nil)

	_, err := provider.FetchChapters(context.Background(),
		models.BookSource{Kind: models.SourceKindWordPress})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestWordPressFetchChapterBodyNotFound(t *testing.T) {
	server := newWordPressServer(t)
	provider := NewWordPressProvider(server.Client())

	_, err := provider.FetchChapterBody(context.Background(), models.ChapterSource{
		Kind: models.SourceKindWordPress,
		URL:  server.URL + "/missing",
	})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}
