// Package expansion derives extra query terms from the top lexical results
// using term frequency-inverse document frequency statistics.
package expansion

import (
	"math"
	"sort"
	"strings"

	"github.com/renderinc/drive-search/internal/textproc"
	"gonum.org/v1/gonum/floats"
)

const (
	meanWeight       = 0.7
	similarityWeight = 0.3
	// Terms present in at least this share of the corpus carry no signal
	commonDocShare = 0.8
	minTermLength  = 2
)

// Expand appends up to k terms drawn from docs to query. It returns the
// lexical-search form of the expanded query and the raw expanded query.
// With no usable docs the original query comes back unexpanded. Docs made
// only of stopwords are read with stopwords kept. With a non-empty
// vocabulary and k >= 1 at least one term is always added.
func Expand(query string, docs []string, k int) (bm25Query, rawQuery string) {
	corpus := buildCorpus(docs, true)
	if len(corpus) == 0 || k <= 0 {
		return textproc.PreprocessBM25(query), query
	}
	if vocabularyEmpty(corpus) {
		corpus = buildCorpus(docs, false)
	}

	m := fit(corpus)
	if len(m.terms) == 0 {
		return textproc.PreprocessBM25(query), query
	}

	queryStems := textproc.Tokenize(textproc.Normalize(query), textproc.Options{RemoveStopwords: true, Stem: true})
	inQuery := make(map[string]bool, len(queryStems))
	for _, s := range queryStems {
		inQuery[s] = true
	}

	combined := m.combinedScores(queryStems)

	valid := make([]bool, len(m.terms))
	scored := make([]float64, len(m.terms))
	for i, t := range m.terms {
		valid[i] = !inQuery[t] && !inQuery[textproc.Stem(t)]
		if valid[i] {
			scored[i] = combined[i]
		}
	}

	var expansions []string
	for _, i := range rankDesc(scored) {
		if len(expansions) == k {
			break
		}
		if valid[i] {
			expansions = append(expansions, m.terms[i])
		}
	}

	if len(expansions) == 0 {
		for _, i := range rankDesc(combined) {
			if len(expansions) == k {
				break
			}
			expansions = append(expansions, m.terms[i])
		}
	}

	rawQuery = strings.TrimSpace(query + " " + strings.Join(expansions, " "))
	return textproc.PreprocessBM25(rawQuery), rawQuery
}

func buildCorpus(docs []string, removeStopwords bool) [][]string {
	corpus := make([][]string, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc) == "" {
			continue
		}
		corpus = append(corpus, corpusTokens(doc, removeStopwords))
	}
	return corpus
}

func vocabularyEmpty(corpus [][]string) bool {
	for _, doc := range corpus {
		if len(doc) > 0 {
			return false
		}
	}
	return true
}

// corpusTokens keeps surface forms so expansion terms read naturally when
// appended to the query.
func corpusTokens(doc string, removeStopwords bool) []string {
	tokens := textproc.Tokenize(textproc.Normalize(doc), textproc.Options{RemoveStopwords: removeStopwords})
	out := tokens[:0]
	for _, t := range tokens {
		if len(t) >= minTermLength {
			out = append(out, t)
		}
	}
	return out
}

// model holds a fitted term-weight model. Terms are sorted alphabetically
// and define the feature order.
type model struct {
	terms []string
	index map[string]int
	idf   []float64
	means []float64
	df    []int
	docs  int
}

func fit(corpus [][]string) *model {
	vocab := make(map[string]struct{})
	for _, doc := range corpus {
		for _, t := range doc {
			vocab[t] = struct{}{}
		}
	}

	m := &model{
		terms: make([]string, 0, len(vocab)),
		index: make(map[string]int, len(vocab)),
		docs:  len(corpus),
	}
	for t := range vocab {
		m.terms = append(m.terms, t)
	}
	sort.Strings(m.terms)
	for i, t := range m.terms {
		m.index[t] = i
	}

	counts := make([]map[int]float64, len(corpus))
	m.df = make([]int, len(m.terms))
	for d, doc := range corpus {
		counts[d] = make(map[int]float64)
		for _, t := range doc {
			counts[d][m.index[t]]++
		}
		for i := range counts[d] {
			m.df[i]++
		}
	}

	// Smoothed idf: ln((1+n)/(1+df)) + 1
	n := float64(len(corpus))
	m.idf = make([]float64, len(m.terms))
	for i, df := range m.df {
		m.idf[i] = math.Log((1+n)/(1+float64(df))) + 1
	}

	m.means = make([]float64, len(m.terms))
	for _, row := range counts {
		var sq float64
		for i, c := range row {
			w := c * m.idf[i]
			row[i] = w
			sq += w * w
		}
		norm := math.Sqrt(sq)
		if norm == 0 {
			continue
		}
		for i, w := range row {
			m.means[i] += w / norm
		}
	}
	floats.Scale(1/n, m.means)

	return m
}

// combinedScores mixes mean term weight with the query's normalized weight
// for that term, zeroing terms too common to be informative.
func (m *model) combinedScores(queryStems []string) []float64 {
	stemCounts := make(map[string]float64, len(queryStems))
	for _, s := range queryStems {
		stemCounts[s]++
	}

	queryVec := make([]float64, len(m.terms))
	for i, t := range m.terms {
		if c := stemCounts[textproc.Stem(t)]; c > 0 {
			queryVec[i] = c * m.idf[i]
		}
	}
	if norm := floats.Norm(queryVec, 2); norm > 0 {
		floats.Scale(1/norm, queryVec)
	}

	threshold := math.Max(2, commonDocShare*float64(m.docs))
	mask := make([]bool, len(m.terms))
	kept := false
	for i, df := range m.df {
		mask[i] = float64(df) < threshold
		kept = kept || mask[i]
	}

	combined := make([]float64, len(m.terms))
	for i := range m.terms {
		if kept && !mask[i] {
			continue
		}
		combined[i] = meanWeight*m.means[i] + similarityWeight*queryVec[i]
	}
	return combined
}

// rankDesc returns feature indices ordered by descending score; equal scores
// keep feature order.
func rankDesc(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}
