// Package textproc turns raw document and query text into the token streams
// consumed by the lexical index and the encoder-based rerankers.
package textproc

import (
	"regexp"
	"strings"
)

var (
	disallowedChars = regexp.MustCompile(`[^a-z0-9\s\-]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text, replaces every character outside [a-z0-9\s-]
// with a space and collapses whitespace runs into single spaces.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = disallowedChars.ReplaceAllString(text, " ")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// PreprocessBM25 is the pipeline shared by index-time content and query-time
// lexical search: stopwords removed, Porter-stemmed, not lemmatized.
func PreprocessBM25(text string) string {
	tokens := Tokenize(Normalize(text), Options{RemoveStopwords: true, Stem: true})
	return strings.Join(tokens, " ")
}

// PreprocessForEncoder keeps stopwords and lemmatizes, preserving the surface
// form the embedding and cross-encoder models were trained on.
func PreprocessForEncoder(text string) string {
	tokens := Tokenize(Normalize(text), Options{Lemmatize: true})
	return strings.Join(tokens, " ")
}
