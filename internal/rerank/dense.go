package rerank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/renderinc/drive-search/internal/embeddings"
	"github.com/renderinc/drive-search/internal/search"
	"golang.org/x/sync/errgroup"
)

// Dense orders candidates by cosine similarity between the query embedding
// and each candidate's content embedding.
type Dense struct {
	embedder embeddings.Embedder
	cache    *lru.Cache[string, []float32]
	opts     options
	logger   *slog.Logger
}

// NewDense creates a dense reranker over embedder
func NewDense(embedder embeddings.Embedder, opts ...Option) (*Dense, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cache, err := lru.New[string, []float32](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Dense{
		embedder: embedder,
		cache:    cache,
		opts:     o,
		logger:   o.logger.With("component", "dense-rerank"),
	}, nil
}

// Rerank returns the topK candidates by descending similarity to query, each
// carrying its similarity as Score. No model call is made for an empty list.
func (d *Dense) Rerank(ctx context.Context, query string, candidates []search.Candidate, topK int) ([]search.Candidate, error) {
	if len(candidates) == 0 || topK <= 0 {
		return []search.Candidate{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = embeddingText(c)
	}

	vecs, err := d.embedAll(ctx, append([]string{query}, texts...))
	if err != nil {
		return nil, err
	}
	queryVec := vecs[0]

	out := make([]search.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = float64(embeddings.CosineSimilarity(queryVec, vecs[i+1]))
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// embedAll returns one vector per text, reusing cached vectors and embedding
// the rest in concurrent batches.
func (d *Dense) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missing []string
	pending := make(map[string][]int)
	for i, text := range texts {
		keys[i] = cacheKey(text)
		if v, ok := d.cache.Get(keys[i]); ok {
			vecs[i] = v
			continue
		}
		if _, seen := pending[keys[i]]; !seen {
			missing = append(missing, text)
		}
		pending[keys[i]] = append(pending[keys[i]], i)
	}

	if len(missing) > 0 {
		embedded := make([][]float32, len(missing))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.opts.concurrency)
		for _, b := range batches(len(missing), d.opts.batchSize) {
			start, end := b[0], b[1]
			g.Go(func() error {
				out, err := d.embedder.EmbedBatch(gctx, missing[start:end])
				if err != nil {
					return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
				}
				if len(out) != end-start {
					return fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(out))
				}
				copy(embedded[start:end], out)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, text := range missing {
			key := cacheKey(text)
			d.cache.Add(key, embedded[i])
			for _, idx := range pending[key] {
				vecs[idx] = embedded[i]
			}
		}

		d.logger.Debug("embedded texts", "requested", len(texts), "embedded", len(missing))
	}

	return vecs, nil
}

// embeddingText falls back to the filename for documents without text
func embeddingText(c search.Candidate) string {
	if strings.TrimSpace(c.Content) != "" {
		return c.Content
	}
	return c.Filename
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
