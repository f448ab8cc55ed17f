// Package extract converts raw file bytes of the supported document types
// into plain text.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the closed set of document types the extractor understands.
type Format int

const (
	FormatUnknown Format = iota
	FormatText
	FormatDocx
)

var formatsByExt = map[string]Format{
	".txt":  FormatText,
	".docx": FormatDocx,
}

// FormatOf maps a filename to its Format by extension, case-insensitively.
func FormatOf(filename string) Format {
	return formatsByExt[strings.ToLower(filepath.Ext(filename))]
}

// Supported reports whether filename has an extractor.
func Supported(filename string) bool {
	return FormatOf(filename) != FormatUnknown
}

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatDocx:
		return "docx"
	default:
		return "unknown"
	}
}

// Extract returns the plain text of raw. Callers trim the result before
// hashing or indexing.
func Extract(filename string, raw []byte) (string, error) {
	switch FormatOf(filename) {
	case FormatText:
		return extractText(raw), nil
	case FormatDocx:
		text, err := extractDocx(raw)
		if err != nil {
			return "", &ExtractionError{Filename: filename, Err: err}
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// extractText decodes raw as UTF-8, replacing invalid sequences.
func extractText(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}
