package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JordanSekky/cereal/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

// WordPressProvider handles serials published on WordPress sites (Pale, The
// Wandering Inn and similar). Chapter lists come from the site feed; bodies
// are scraped from the post's entry-content, falling back to readability
// extraction for themes without the standard markup.
type WordPressProvider struct {
	Client *http.Client
	parser *gofeed.Parser
}

// NewWordPressProvider creates a provider with a dedicated feed parser.
func NewWordPressProvider(client *http.Client) *WordPressProvider {
	if client == nil {
		client = http.DefaultClient
	}
	parser := gofeed.NewParser()
	parser.Client = client
	return &WordPressProvider{Client: client, parser: parser}
}

func (p *WordPressProvider) Kind() models.SourceKind { return models.SourceKindWordPress }

// FetchChapters parses the serial's feed. The post URL is the stable
// chapter key.
func (p *WordPressProvider) FetchChapters(ctx context.Context, src models.BookSource) (Listing, error) {
	if src.TOCURL == "" {
		return Listing{}, &FormatError{Err: fmt.Errorf("book source has no feed url")}
	}

	feed, err := p.parser.ParseURLWithContext(src.TOCURL, ctx)
	if err != nil {
		return Listing{}, classifyFeedError(err)
	}

	listing := Listing{}
	for _, item := range feed.Items {
		if item.Link == "" {
			listing.Malformed = append(listing.Malformed,
				&FormatError{Err: fmt.Errorf("no link in feed item %q", item.Title)})
			continue
		}
		if item.Title == "" {
			listing.Malformed = append(listing.Malformed,
				&FormatError{Err: fmt.Errorf("no title in feed item at %s", item.Link)})
			continue
		}
		listing.Chapters = append(listing.Chapters, ChapterListing{
			Title: item.Title,
			Source: models.ChapterSource{
				Kind: models.SourceKindWordPress,
				URL:  item.Link,
			},
			PublishedAt: publishedAt(item),
		})
	}
	return listing, nil
}

// FetchChapterBody scrapes the post page. WordPress wraps the chapter text
// in div.entry-content; sharing widgets and prev/next navigation links are
// stripped out, matching what a reader would consider the chapter.
func (p *WordPressProvider) FetchChapterBody(ctx context.Context, src models.ChapterSource) ([]byte, error) {
	if src.URL == "" {
		return nil, &FormatError{Err: fmt.Errorf("chapter source has no url")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build chapter request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, &FetchError{Err: fmt.Errorf("%s returned status %d", src.URL, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FormatError{Err: fmt.Errorf("%s returned status %d", src.URL, resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FormatError{Err: fmt.Errorf("failed to parse chapter page: %w", err)}
	}

	var parts []string
	doc.Find("div.entry-content > *").Each(func(_ int, s *goquery.Selection) {
		if id, _ := s.Attr("id"); id == "jp-post-flair" {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "Next Chapter" || text == "Previous Chapter" {
			return
		}
		if html, err := goquery.OuterHtml(s); err == nil {
			parts = append(parts, html)
		}
	})
	if body := strings.TrimSpace(strings.Join(parts, "\n")); body != "" {
		return []byte(body), nil
	}

	// Theme without entry-content markup; let readability find the article.
	html, err := doc.Html()
	if err != nil {
		return nil, &FormatError{Err: fmt.Errorf("failed to render chapter page: %w", err)}
	}
	article, err := readability.FromReader(strings.NewReader(html), req.URL)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return nil, &FormatError{Err: fmt.Errorf("no chapter body found at %s", src.URL)}
	}
	return []byte(article.Content), nil
}

// publishedAt prefers the parsed feed date and falls back to lenient parsing
// of the raw string; WordPress plugins occasionally emit dates gofeed's
// strict parser rejects.
func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	if item.Published == "" {
		return nil
	}
	t, err := dateparse.ParseAny(item.Published)
	if err != nil {
		return nil
	}
	return &t
}
