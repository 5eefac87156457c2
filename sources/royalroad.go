package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JordanSekky/cereal/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	royalRoadFeedURL    = "https://www.royalroad.com/syndication/%d"
	royalRoadChapterURL = "https://www.royalroad.com/fiction/chapter/%d"
)

// RoyalRoadProvider discovers chapters through RoyalRoad's per-fiction RSS
// feed and scrapes chapter bodies from the chapter pages.
type RoyalRoadProvider struct {
	// BaseURL overrides royalroad.com, for tests.
	BaseURL string
	Client  *http.Client
	parser  *gofeed.Parser
}

// NewRoyalRoadProvider creates a provider with a dedicated feed parser.
func NewRoyalRoadProvider(client *http.Client) *RoyalRoadProvider {
	if client == nil {
		client = http.DefaultClient
	}
	parser := gofeed.NewParser()
	parser.Client = client
	return &RoyalRoadProvider{Client: client, parser: parser}
}

func (p *RoyalRoadProvider) Kind() models.SourceKind { return models.SourceKindRoyalRoad }

// FetchChapters parses the fiction's syndication feed. Feed items are
// "<fiction> - <chapter title>" with a link whose last path segment is the
// stable chapter ID.
func (p *RoyalRoadProvider) FetchChapters(ctx context.Context, src models.BookSource) (Listing, error) {
	if src.RoyalRoadBookID == 0 {
		return Listing{}, &FormatError{Err: fmt.Errorf("book source has no royalroad fiction id")}
	}

	feed, err := p.parser.ParseURLWithContext(p.feedURL(src.RoyalRoadBookID), ctx)
	if err != nil {
		return Listing{}, classifyFeedError(err)
	}

	listing := Listing{}
	for _, item := range feed.Items {
		chapter, err := royalRoadItemToListing(src.RoyalRoadBookID, item)
		if err != nil {
			listing.Malformed = append(listing.Malformed, err)
			continue
		}
		listing.Chapters = append(listing.Chapters, chapter)
	}
	return listing, nil
}

// FetchChapterBody scrapes the chapter page and extracts the chapter text
// container.
func (p *RoyalRoadProvider) FetchChapterBody(ctx context.Context, src models.ChapterSource) ([]byte, error) {
	if src.RoyalRoadChapterID == 0 {
		return nil, &FormatError{Err: fmt.Errorf("chapter source has no royalroad chapter id")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.chapterURL(src.RoyalRoadChapterID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build chapter request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, &FetchError{Err: fmt.Errorf("royalroad returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FormatError{Err: fmt.Errorf("royalroad returned status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FormatError{Err: fmt.Errorf("failed to parse chapter page: %w", err)}
	}

	sel := doc.Find("div.chapter-inner").First()
	if sel.Length() == 0 {
		return nil, &FormatError{Err: fmt.Errorf("no chapter body found at %s", p.chapterURL(src.RoyalRoadChapterID))}
	}
	body, err := goquery.OuterHtml(sel)
	if err != nil {
		return nil, &FormatError{Err: fmt.Errorf("failed to render chapter body: %w", err)}
	}
	return []byte(body), nil
}

func (p *RoyalRoadProvider) feedURL(fictionID uint64) string {
	if p.BaseURL != "" {
		return fmt.Sprintf(p.BaseURL+"/syndication/%d", fictionID)
	}
	return fmt.Sprintf(royalRoadFeedURL, fictionID)
}

func (p *RoyalRoadProvider) chapterURL(chapterID uint64) string {
	if p.BaseURL != "" {
		return fmt.Sprintf(p.BaseURL+"/fiction/chapter/%d", chapterID)
	}
	return fmt.Sprintf(royalRoadChapterURL, chapterID)
}

func royalRoadItemToListing(fictionID uint64, item *gofeed.Item) (ChapterListing, error) {
	chapterID, err := royalRoadChapterIDFromLink(item.Link)
	if err != nil {
		return ChapterListing{}, &FormatError{Err: fmt.Errorf("item %q: %w", item.Title, err)}
	}

	_, title, found := strings.Cut(item.Title, " - ")
	if !found || title == "" {
		return ChapterListing{}, &FormatError{Err: fmt.Errorf("no chapter title in feed item %q", item.Title)}
	}

	return ChapterListing{
		Title: title,
		Source: models.ChapterSource{
			Kind:               models.SourceKindRoyalRoad,
			RoyalRoadChapterID: chapterID,
		},
		PublishedAt: item.PublishedParsed,
	}, nil
}

func royalRoadChapterIDFromLink(link string) (uint64, error) {
	idx := strings.LastIndex(link, "/")
	if idx < 0 || idx == len(link)-1 {
		return 0, fmt.Errorf("no chapter id in link %q", link)
	}
	id, err := strconv.ParseUint(link[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("no numeric chapter id in link %q", link)
	}
	return id, nil
}
