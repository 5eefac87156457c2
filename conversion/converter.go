// Package conversion turns raw chapter HTML into delivery-ready EPUB
// artifacts.
package conversion

import (
	"bytes"
	"fmt"

	"github.com/JordanSekky/cereal/models"
	epub "github.com/go-shiori/go-epub"
	"github.com/microcosm-cc/bluemonday"
)

// ConversionError is a per-chapter, non-fatal failure. The chapter stays
// eligible for delivery without an artifact and conversion is retried on a
// later pass.
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string { return fmt.Sprintf("epub conversion failed: %v", e.Err) }
func (e *ConversionError) Unwrap() error { return e.Err }

// Converter generates single-chapter EPUB artifacts. Chapter HTML is
// sanitized before packaging; scraped pages carry scripts, trackers and
// styling that e-readers choke on.
type Converter struct {
	policy *bluemonday.Policy
}

// NewConverter creates a Converter with a user-generated-content
// sanitation policy.
func NewConverter() *Converter {
	return &Converter{policy: bluemonday.UGCPolicy()}
}

// ChapterEPUB packages one chapter into an EPUB titled after the book and
// chapter, matching how e-reader libraries display single-chapter
// deliveries.
func (c *Converter) ChapterEPUB(book *models.Book, chapter *models.Chapter) ([]byte, error) {
	if len(chapter.HTML) == 0 {
		return nil, &ConversionError{Err: fmt.Errorf("chapter %s has no body", chapter.ID)}
	}

	title := fmt.Sprintf("%s: %s", book.Title, chapter.Title)
	e, err := epub.NewEpub(title)
	if err != nil {
		return nil, &ConversionError{Err: fmt.Errorf("failed to create epub: %w", err)}
	}
	e.SetAuthor(book.Author)
	e.SetLang("en")

	body := c.SanitizeHTML(chapter.HTML)
	section := fmt.Sprintf("<h1>%s</h1>\n%s", chapter.Title, body)
	if _, err := e.AddSection(section, chapter.Title, "", ""); err != nil {
		return nil, &ConversionError{Err: fmt.Errorf("failed to add chapter section: %w", err)}
	}

	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, &ConversionError{Err: fmt.Errorf("failed to write epub: %w", err)}
	}
	return buf.Bytes(), nil
}

// SanitizeHTML strips unsafe markup from a chapter body. Also used by the
// email channel when it has to fall back to delivering raw HTML.
func (c *Converter) SanitizeHTML(html []byte) []byte {
	return c.policy.SanitizeBytes(html)
}
