package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/renderinc/drive-search/internal/textproc"
)

// Stages sets the size of each step of the search cascade
type Stages struct {
	FirstTopK  int
	ExpansionK int
	SecondTopK int
	DenseTopK  int
	FinalTopK  int
}

// DefaultStages returns the stage sizes used in production
func DefaultStages() Stages {
	return Stages{
		FirstTopK:  500,
		ExpansionK: 3,
		SecondTopK: 200,
		DenseTopK:  100,
		FinalTopK:  10,
	}
}

// Retriever runs lexical searches over an owner's index with a query that
// has already been through textproc.PreprocessBM25.
type Retriever interface {
	SearchTerms(ctx context.Context, ownerID int64, processed string, topK int) ([]Candidate, error)
}

// Reranker reorders candidates for a query and keeps the best topK
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error)
}

// ExpandFunc derives an expanded query from the texts of top documents. It
// returns the lexical-search form and the raw form.
type ExpandFunc func(query string, docs []string, k int) (bm25Query, rawQuery string)

// Pipeline composes lexical retrieval, query expansion, dense reranking and
// cross-encoder reranking.
type Pipeline struct {
	retriever Retriever
	expand    ExpandFunc
	dense     Reranker
	cross     Reranker
	stages    Stages
	logger    *slog.Logger
}

// NewPipeline wires the cascade stages together
func NewPipeline(retriever Retriever, expand ExpandFunc, dense, cross Reranker, stages Stages, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		retriever: retriever,
		expand:    expand,
		dense:     dense,
		cross:     cross,
		stages:    stages,
		logger:    logger.With("component", "pipeline"),
	}
}

// Run executes the full cascade for one owner's query. Any stage failure is
// returned to the caller.
func (p *Pipeline) Run(ctx context.Context, ownerID int64, query string) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	first, err := p.retriever.SearchTerms(ctx, ownerID, textproc.PreprocessBM25(query), p.stages.FirstTopK)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	first = truncate(first, p.stages.FirstTopK)

	docs := make([]string, 0, len(first))
	for _, c := range first {
		docs = append(docs, c.Content)
	}
	bm25Query, rawQuery := p.expand(query, docs, p.stages.ExpansionK)

	second, err := p.retriever.SearchTerms(ctx, ownerID, bm25Query, p.stages.SecondTopK)
	if err != nil {
		return nil, fmt.Errorf("expanded lexical search: %w", err)
	}
	second = truncate(second, p.stages.SecondTopK)

	encoderQuery := textproc.PreprocessForEncoder(rawQuery)

	dense, err := p.dense.Rerank(ctx, encoderQuery, second, p.stages.DenseTopK)
	if err != nil {
		return nil, fmt.Errorf("dense rerank: %w", err)
	}
	dense = truncate(dense, p.stages.DenseTopK)

	final, err := p.cross.Rerank(ctx, encoderQuery, dense, p.stages.FinalTopK)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder rerank: %w", err)
	}
	final = truncate(final, p.stages.FinalTopK)

	p.logger.Debug("search complete",
		"owner", ownerID,
		"expanded", rawQuery,
		"first", len(first),
		"second", len(second),
		"dense", len(dense),
		"final", len(final),
		"took", time.Since(start),
	)

	return final, nil
}

func truncate(candidates []Candidate, topK int) []Candidate {
	if topK < 0 {
		topK = 0
	}
	if len(candidates) > topK {
		return candidates[:topK]
	}
	return candidates
}
