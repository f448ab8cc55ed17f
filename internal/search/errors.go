package search

import "errors"

var (
	// ErrIndexUnavailable is returned when an owner's index cannot be opened or read.
	ErrIndexUnavailable = errors.New("search index unavailable")
	// ErrEmptyQuery is returned when a query has no searchable text.
	ErrEmptyQuery = errors.New("empty query")
)
