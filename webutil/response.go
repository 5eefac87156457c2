package webutil

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RespondWithJSON is a helper that marshals the given payload and writes it
// to the response writer along with the provided status code.
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("could not marshal JSON response")
		w.Header().Set(HeaderContentType, ContentTypeJSONUTF8)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "Internal Server Error"}`))
		return
	}
	w.Header().Set(HeaderContentType, ContentTypeJSONUTF8)
	w.WriteHeader(statusCode)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("could not write JSON response")
	}
}

// RespondWithError writes a standardized JSON error body with the given
// status code and message.
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, map[string]string{"error": message})
}

// responseWriterSpy wraps an http.ResponseWriter and records whether the
// header has been written.
type responseWriterSpy struct {
	http.ResponseWriter
	wroteHeader bool
}

func (s *responseWriterSpy) WriteHeader(statusCode int) {
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *responseWriterSpy) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// WrapResponseWriter returns a response writer that tracks whether a header
// has been sent, for use with HasResponseWriterSentHeader.
func WrapResponseWriter(w http.ResponseWriter) http.ResponseWriter {
	return &responseWriterSpy{ResponseWriter: w}
}

// HasResponseWriterSentHeader reports whether the response writer has
// already written its header, when the writer was produced by
// WrapResponseWriter. For unwrapped writers it returns false.
func HasResponseWriterSentHeader(w http.ResponseWriter) bool {
	spy, ok := w.(*responseWriterSpy)
	return ok && spy.wroteHeader
}
