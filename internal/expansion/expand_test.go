package expansion

import (
	"strings"
	"testing"

	"github.com/renderinc/drive-search/internal/textproc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addedTerms(query, raw string) []string {
	return strings.Fields(strings.TrimSpace(strings.TrimPrefix(raw, query)))
}

func TestExpandSingleDocument(t *testing.T) {
	bm25, raw := Expand("quick", []string{"the quick brown fox"}, 3)

	terms := addedTerms("quick", raw)
	require.NotEmpty(t, terms)
	assert.LessOrEqual(t, len(terms), 3)
	for _, term := range terms {
		assert.Contains(t, []string{"brown", "fox"}, term)
	}
	assert.Equal(t, "quick brown fox", raw)
	assert.Equal(t, textproc.PreprocessBM25(raw), bm25)
}

func TestExpandEmptyCorpus(t *testing.T) {
	bm25, raw := Expand("Connecting Databases", nil, 3)
	assert.Equal(t, "Connecting Databases", raw)
	assert.Equal(t, "connect databas", bm25)

	bm25, raw = Expand("reports", []string{"", "   "}, 3)
	assert.Equal(t, "reports", raw)
	assert.Equal(t, "report", bm25)
}

func TestExpandNeverEmpty(t *testing.T) {
	cases := []struct {
		name  string
		query string
		docs  []string
	}{
		{"only query terms", "quick", []string{"quick quick", "Quick!"}},
		{"stemmed query terms", "reports", []string{"report reporting"}},
		{"all common", "zebra", []string{"alpha beta", "alpha beta", "alpha beta"}},
		{"ordinary", "budget", []string{"budget review for marketing", "travel budget approval"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k := 1; k <= 4; k++ {
				_, raw := Expand(tc.query, tc.docs, k)
				terms := addedTerms(tc.query, raw)
				assert.NotEmpty(t, terms)
				assert.LessOrEqual(t, len(terms), k)
			}
		})
	}
}

func TestExpandExcludesQueryStems(t *testing.T) {
	_, raw := Expand("reports", []string{"reporting quarterly revenue", "report revenue forecast"}, 2)
	terms := addedTerms("reports", raw)
	require.Len(t, terms, 2)
	for _, term := range terms {
		assert.NotContains(t, []string{"report", "reporting", "reports"}, term)
	}
}

func TestExpandMasksCommonTerms(t *testing.T) {
	docs := []string{
		"invoice payment overdue",
		"invoice payment received",
		"invoice payment pending",
		"invoice payment disputed",
		"invoice payment refunded",
	}
	_, raw := Expand("status", docs, 1)
	terms := addedTerms("status", raw)
	require.Len(t, terms, 1)
	assert.NotEqual(t, "invoice", terms[0])
	assert.NotEqual(t, "payment", terms[0])
}

func TestExpandTieBreaksAlphabetically(t *testing.T) {
	_, raw := Expand("quick", []string{"zebra apple quick"}, 1)
	assert.Equal(t, "quick apple", raw)
}

func TestExpandStopwordOnlyCorpusKeepsStopwords(t *testing.T) {
	_, raw := Expand("fox", []string{"the and of"}, 3)
	assert.Equal(t, "fox and of the", raw)
}

func TestExpandPrefersContentWordsOverStopwords(t *testing.T) {
	_, raw := Expand("fox", []string{"the and of", "the lazy dog"}, 2)
	terms := addedTerms("fox", raw)
	assert.ElementsMatch(t, []string{"dog", "lazy"}, terms)
}
