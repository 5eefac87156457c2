package sources

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/mmcdole/gofeed"
)

// classifyFeedError splits gofeed failures into transient transport
// problems and malformed feed content. gofeed surfaces both through the
// same error return.
func classifyFeedError(err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 || httpErr.StatusCode == 429 {
			return &FetchError{Err: err}
		}
		return &FormatError{Err: err}
	}
	if isTemporaryNetErr(err) {
		return &FetchError{Err: err}
	}
	return &FormatError{Err: err}
}

func isTemporaryNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
