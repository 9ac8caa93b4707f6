package articles

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the articles API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error returns the error message.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("articles: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("articles: HTTP %d: %s", e.StatusCode, e.Message)
}

// Is matches another *APIError with the same status code.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode
}

// Temporary returns true if the request should be retried: server errors
// and rate limiting.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

var (
	// ErrNotFound is returned when the article does not exist.
	ErrNotFound = &APIError{StatusCode: http.StatusNotFound}

	// ErrNoAudio is returned when an article has no audio and no fallback
	// location is configured.
	ErrNoAudio = errors.New("articles: no audio for article")

	// ErrInvalidConfig is returned when client configuration is invalid.
	ErrInvalidConfig = errors.New("articles: invalid configuration")
)
