package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/renderinc/drive-search/internal/embeddings"
	"github.com/renderinc/drive-search/internal/search"
	"golang.org/x/sync/errgroup"
)

// CrossEncoder scores each (query, content) pair jointly. It is slower and
// more precise than Dense, so it runs on Dense's output.
type CrossEncoder struct {
	scorer embeddings.PairScorer
	opts   options
	logger *slog.Logger
}

// NewCrossEncoder creates a cross-encoder reranker over scorer
func NewCrossEncoder(scorer embeddings.PairScorer, opts ...Option) (*CrossEncoder, error) {
	if scorer == nil {
		return nil, ErrScorerRequired
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &CrossEncoder{
		scorer: scorer,
		opts:   o,
		logger: o.logger.With("component", "cross-encoder"),
	}, nil
}

// Rerank scores candidates in batches, sorts them by descending score and
// keeps the first topK.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, candidates []search.Candidate, topK int) ([]search.Candidate, error) {
	if len(candidates) == 0 || topK <= 0 {
		return []search.Candidate{}, nil
	}

	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = embeddingText(cand)
	}

	scores := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.concurrency)
	for _, b := range batches(len(texts), c.opts.batchSize) {
		start, end := b[0], b[1]
		g.Go(func() error {
			out, err := c.scorer.ScorePairs(gctx, query, texts[start:end])
			if err != nil {
				return fmt.Errorf("score batch %d-%d: %w", start, end, err)
			}
			if len(out) != end-start {
				return fmt.Errorf("score batch %d-%d: got %d scores", start, end, len(out))
			}
			copy(scores[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]search.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = scores[i]
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})

	if len(out) > topK {
		out = out[:topK]
	}

	c.logger.Debug("cross-encoder rerank", "candidates", len(candidates), "kept", len(out))
	return out, nil
}
