package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/renderinc/drive-search/internal/expansion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	pool    int
	queries []string
	topKs   []int
	err     error
}

// SearchTerms ignores topK and returns the whole pool so the pipeline's own
// bounds are what the tests observe.
func (f *fakeRetriever) SearchTerms(_ context.Context, _ int64, processed string, topK int) ([]Candidate, error) {
	f.queries = append(f.queries, processed)
	f.topKs = append(f.topKs, topK)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Candidate, f.pool)
	for i := range out {
		out[i] = Candidate{ID: fmt.Sprintf("d%d", i), Content: fmt.Sprintf("content %d", i), Score: float64(f.pool - i)}
	}
	return out, nil
}

type fakeReranker struct {
	name    string
	queries []string
	inputs  []int
	err     error
}

func (f *fakeReranker) Rerank(_ context.Context, query string, candidates []Candidate, _ int) ([]Candidate, error) {
	f.queries = append(f.queries, query)
	f.inputs = append(f.inputs, len(candidates))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	return out, nil
}

func fakeExpand(query string, docs []string, k int) (string, string) {
	return "expand bm25", query + " extra"
}

func TestPipelineCascadeShrinks(t *testing.T) {
	stages := DefaultStages()
	for _, pool := range []int{0, 1, 9, 50, 150, 1000} {
		t.Run(fmt.Sprintf("pool=%d", pool), func(t *testing.T) {
			retriever := &fakeRetriever{pool: pool}
			dense := &fakeReranker{name: "dense"}
			cross := &fakeReranker{name: "cross"}
			p := NewPipeline(retriever, fakeExpand, dense, cross, stages, nil)

			results, err := p.Run(context.Background(), 1, "Quarterly Reports")
			require.NoError(t, err)

			assert.Equal(t, []int{stages.FirstTopK, stages.SecondTopK}, retriever.topKs)
			require.Len(t, dense.inputs, 1)
			assert.LessOrEqual(t, dense.inputs[0], stages.SecondTopK)
			require.Len(t, cross.inputs, 1)
			assert.LessOrEqual(t, cross.inputs[0], stages.DenseTopK)
			assert.LessOrEqual(t, len(results), stages.FinalTopK)
		})
	}
}

func TestPipelineQueryForms(t *testing.T) {
	retriever := &fakeRetriever{pool: 3}
	dense := &fakeReranker{}
	cross := &fakeReranker{}
	p := NewPipeline(retriever, fakeExpand, dense, cross, DefaultStages(), nil)

	_, err := p.Run(context.Background(), 1, "The Studies")
	require.NoError(t, err)

	assert.Equal(t, []string{"studi", "expand bm25"}, retriever.queries)
	assert.Equal(t, []string{"the study extra"}, dense.queries)
	assert.Equal(t, dense.queries, cross.queries)
}

func TestPipelinePassesContentToExpansion(t *testing.T) {
	var seen []string
	expand := func(query string, docs []string, k int) (string, string) {
		seen = docs
		assert.Equal(t, 3, k)
		return query, query
	}
	p := NewPipeline(&fakeRetriever{pool: 2}, expand, &fakeReranker{}, &fakeReranker{}, DefaultStages(), nil)

	_, err := p.Run(context.Background(), 1, "budget")
	require.NoError(t, err)
	assert.Equal(t, []string{"content 0", "content 1"}, seen)
}

func TestPipelinePropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	p := NewPipeline(&fakeRetriever{err: boom}, fakeExpand, &fakeReranker{}, &fakeReranker{}, DefaultStages(), nil)
	_, err := p.Run(context.Background(), 1, "budget")
	assert.ErrorIs(t, err, boom)

	p = NewPipeline(&fakeRetriever{pool: 5}, fakeExpand, &fakeReranker{err: boom}, &fakeReranker{}, DefaultStages(), nil)
	_, err = p.Run(context.Background(), 1, "budget")
	assert.ErrorIs(t, err, boom)

	p = NewPipeline(&fakeRetriever{pool: 5}, fakeExpand, &fakeReranker{}, &fakeReranker{err: boom}, DefaultStages(), nil)
	_, err = p.Run(context.Background(), 1, "budget")
	assert.ErrorIs(t, err, boom)
}

func TestPipelineEmptyQuery(t *testing.T) {
	p := NewPipeline(&fakeRetriever{}, fakeExpand, &fakeReranker{}, &fakeReranker{}, DefaultStages(), nil)
	_, err := p.Run(context.Background(), 1, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestPipelineOverIndex(t *testing.T) {
	indexes := NewIndexes("", 0, nil)
	t.Cleanup(func() { indexes.Close() })
	ctx := context.Background()
	_, err := indexes.UpsertBulk(ctx, 5, sampleDocs())
	require.NoError(t, err)

	dense := &fakeReranker{}
	p := NewPipeline(indexes, expansion.Expand, dense, &fakeReranker{}, DefaultStages(), nil)
	results, err := p.Run(ctx, 5, "marketing budget")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, []string{"marketing budget quarterly review team"}, dense.queries)
}
