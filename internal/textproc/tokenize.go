package textproc

import (
	"unicode"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"github.com/blevesearch/segment"
)

// Options selects the token filters applied by Tokenize.
// Lemmatize and Stem are not meant to be combined; when both are set the
// lemma is stemmed.
type Options struct {
	RemoveStopwords bool
	Lemmatize       bool
	Stem            bool
}

// Tokenize splits text into alphabetic words using Unicode word boundaries
// and applies the filters selected by opts. Token order follows the input.
func Tokenize(text string, opts Options) []string {
	if text == "" {
		return nil
	}

	tokens := make([]string, 0, len(text)/6)
	seg := segment.NewWordSegmenterDirect([]byte(text))
	for seg.Segment() {
		if seg.Type() != segment.Letter {
			continue
		}
		word := string(seg.Bytes())
		if !isAlpha(word) {
			continue
		}
		if opts.RemoveStopwords && IsStopword(word) {
			continue
		}
		if opts.Lemmatize {
			word = Lemma(word)
		}
		if opts.Stem {
			word = Stem(word)
		}
		if word != "" {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// Stem returns the Porter stem of a lowercase word.
func Stem(word string) string {
	return porterstemmer.StemString(word)
}

// isAlpha reports whether every rune of s is a letter.
func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
