package webutil

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppHandler represents a handler function that returns an error.
type AppHandler func(w http.ResponseWriter, r *http.Request) error

// MakeHandler adapts an AppHandler to the standard http.HandlerFunc
// signature. It executes the AppHandler and handles any returned error by
// logging appropriately and sending a standardized JSON error response.
func MakeHandler(handler AppHandler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		w := WrapResponseWriter(rw)
		err := handler(w, r)
		if err == nil {
			// The handler is assumed to have written its own response.
			return
		}

		var httpErr *HTTPError
		var publicMessage string
		var statusCode int

		switch {
		case errors.As(err, &httpErr):
			statusCode = httpErr.Code
			publicMessage = httpErr.Message
			level := zerolog.WarnLevel
			if statusCode >= 500 {
				level = zerolog.ErrorLevel
			}
			event := log.WithLevel(level).
				Int("code", httpErr.Code).
				Str("path", r.URL.Path).
				Str("method", r.Method)
			if cause := errors.Unwrap(httpErr); cause != nil && cause.Error() != publicMessage {
				event = event.AnErr("cause", cause)
			}
			event.Msg("client error response")

		case errors.Is(err, sql.ErrNoRows):
			statusCode = http.StatusNotFound
			publicMessage = "Resource not found"
			log.Info().Err(err).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Msg("resource not found")

		default:
			statusCode = http.StatusInternalServerError
			publicMessage = "Internal Server Error"
			log.Error().Err(err).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Msg("unhandled internal error")
		}

		if HasResponseWriterSentHeader(w) {
			log.Warn().Err(err).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Msg("handler returned error after writing response header")
			return
		}

		RespondWithJSON(w, statusCode, map[string]string{"error": publicMessage})
	}
}
