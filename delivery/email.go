package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/JordanSekky/cereal/models"
	"github.com/jaytaylor/html2text"
)

// EmailChannel sends chapter batches to a subscriber's e-reader address as
// EPUB attachments through the Mailgun messages API. Chapters without an
// EPUB artifact degrade to a sanitized HTML attachment so a failed
// conversion never blocks delivery.
type EmailChannel struct {
	Endpoint string
	APIKey   string
	From     string
	Client   *http.Client
}

// NewEmailChannel creates the Mailgun-backed email channel.
func NewEmailChannel(endpoint, apiKey, from string, client *http.Client) *EmailChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &EmailChannel{Endpoint: endpoint, APIKey: apiKey, From: from, Client: client}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Applies(sub *models.Subscriber) bool {
	return sub.KindleEmail != nil && *sub.KindleEmail != ""
}

// Deliver posts a multipart message with one attachment per chapter.
func (c *EmailChannel) Deliver(ctx context.Context, batch Batch) error {
	if !c.Applies(batch.Subscriber) {
		return &Error{Kind: KindPermanent, Err: fmt.Errorf("subscriber %s has no e-reader email address", batch.Subscriber.ID)}
	}
	if len(batch.Chapters) == 0 {
		return nil
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	subject := batchSubject(batch)
	fields := map[string]string{
		"from":    c.From,
		"to":      *batch.Subscriber.KindleEmail,
		"subject": subject,
		"html":    batchHTML(batch),
		"text":    batchText(batch),
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return &Error{Kind: KindTransient, Err: fmt.Errorf("failed to write form field %s: %w", name, err)}
		}
	}

	for i := range batch.Chapters {
		chapter := &batch.Chapters[i]
		content, contentType, fileName := chapterAttachment(chapter)
		if content == nil {
			continue
		}
		part, err := form.CreatePart(attachmentHeader(fileName, contentType))
		if err != nil {
			return &Error{Kind: KindTransient, Err: fmt.Errorf("failed to create attachment part: %w", err)}
		}
		if _, err := part.Write(content); err != nil {
			return &Error{Kind: KindTransient, Err: fmt.Errorf("failed to write attachment: %w", err)}
		}
	}
	if err := form.Close(); err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("failed to finalize form: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, &body)
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("failed to build mailgun request: %w", err)}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.SetBasicAuth("api", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("mailgun request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("mailgun returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &Error{Kind: KindTransient, Err: err}
		}
		return &Error{Kind: KindPermanent, Err: err}
	}
	return nil
}

// chapterAttachment selects the best available representation of a chapter.
func chapterAttachment(chapter *models.Chapter) (content []byte, contentType, fileName string) {
	switch {
	case len(chapter.EPUB) > 0:
		return chapter.EPUB, "application/epub+zip", sanitizeFileName(chapter.Title) + ".epub"
	case len(chapter.HTML) > 0:
		return chapter.HTML, "text/html", sanitizeFileName(chapter.Title) + ".html"
	default:
		return nil, "", ""
	}
}

func attachmentHeader(fileName, contentType string) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename="%s"`, fileName))
	h.Set("Content-Type", contentType)
	return h
}

func batchSubject(batch Batch) string {
	chapters := batch.Chapters
	if len(chapters) == 1 {
		return fmt.Sprintf("%s: %s", batch.Book.Title, chapters[0].Title)
	}
	return fmt.Sprintf("%s: %s through %s", batch.Book.Title, chapters[0].Title, chapters[len(chapters)-1].Title)
}

func batchHTML(batch Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>New chapters of <strong>%s</strong>:</p><ul>", batch.Book.Title)
	for _, chapter := range batch.Chapters {
		fmt.Fprintf(&b, "<li>%s</li>", chapter.Title)
	}
	b.WriteString("</ul>")
	return b.String()
}

func batchText(batch Batch) string {
	text, err := html2text.FromString(batchHTML(batch), html2text.Options{TextOnly: false})
	if err != nil {
		// Unlikely for our own markup; fall back to the subject line.
		return batchSubject(batch)
	}
	return text
}

// sanitizeFileName strips characters that mail providers or e-readers
// mishandle in attachment names.
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
