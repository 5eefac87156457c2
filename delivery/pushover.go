package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/JordanSekky/cereal/models"
)

const pushoverMessagesURL = "https://api.pushover.net/1/messages.json"

// PushoverChannel announces chapter batches through the Pushover
// notification API. Push notices can't carry content, so this channel only
// names the delivered chapters; artifact-less chapters are no different
// from converted ones here.
type PushoverChannel struct {
	// Endpoint overrides the Pushover API URL, for tests.
	Endpoint string
	Token    string
	Client   *http.Client
}

// NewPushoverChannel creates the Pushover channel.
func NewPushoverChannel(token string, client *http.Client) *PushoverChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &PushoverChannel{Endpoint: pushoverMessagesURL, Token: token, Client: client}
}

func (c *PushoverChannel) Name() string { return "pushover" }

func (c *PushoverChannel) Applies(sub *models.Subscriber) bool {
	return sub.PushoverKey != nil && *sub.PushoverKey != ""
}

// Deliver posts one notification summarizing the batch.
func (c *PushoverChannel) Deliver(ctx context.Context, batch Batch) error {
	if !c.Applies(batch.Subscriber) {
		return &Error{Kind: KindPermanent, Err: fmt.Errorf("subscriber %s has no pushover key", batch.Subscriber.ID)}
	}
	if len(batch.Chapters) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"token":   c.Token,
		"user":    *batch.Subscriber.PushoverKey,
		"message": pushoverMessage(batch),
	})
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("failed to encode pushover payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("failed to build pushover request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("pushover request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("pushover returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &Error{Kind: KindTransient, Err: err}
		}
		return &Error{Kind: KindPermanent, Err: err}
	}
	return nil
}

func pushoverMessage(batch Batch) string {
	chapters := batch.Chapters
	if len(chapters) == 1 {
		return fmt.Sprintf("Delivered new chapter for %s: %s", batch.Book.Title, chapters[0].Title)
	}
	return fmt.Sprintf("Delivered new chapters for %s. %s through %s",
		batch.Book.Title, chapters[0].Title, chapters[len(chapters)-1].Title)
}
