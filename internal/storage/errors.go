package storage

import "errors"

// ErrNotFound is returned when a requested owner or document does not exist.
var ErrNotFound = errors.New("not found")
