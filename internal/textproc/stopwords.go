package textproc

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
)

// stopwords is the Snowball English list bundled with bleve's stop_en filter,
// so query-time and index-time filtering agree with the index analyzers.
var stopwords = loadStopwords()

func loadStopwords() analysis.TokenMap {
	tm := analysis.NewTokenMap()
	if err := tm.LoadBytes(en.EnglishStopWords); err != nil {
		panic("textproc: load english stopwords: " + err.Error())
	}
	return tm
}

// IsStopword reports whether word is an English stopword.
func IsStopword(word string) bool {
	return stopwords[strings.ToLower(word)]
}
