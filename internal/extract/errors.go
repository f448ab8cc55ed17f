package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned for files whose extension has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrExtractionFailed matches every *ExtractionError.
	ErrExtractionFailed = errors.New("extraction failed")
)

// ExtractionError carries the parser error for a rich document that could not be read.
type ExtractionError struct {
	Filename string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExtractionFailed) match regardless of the cause.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailed }
