package embeddings

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyInput is returned when there is no text to embed or score
	ErrEmptyInput = errors.New("empty input")
	// ErrProvider covers any failed response from a model server
	ErrProvider = errors.New("model provider error")
	// ErrUnsupportedProvider is returned for an unknown provider name
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	// ErrModelMismatch is returned when a server runs a different model than configured
	ErrModelMismatch = errors.New("model mismatch")
)

// StatusError is a non-2xx response from a model server
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrProvider
}

// retryable reports whether a failed call may succeed if repeated
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return !errors.Is(err, ErrEmptyInput)
}
