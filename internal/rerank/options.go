// Package rerank reorders lexical candidates with a sentence embedder (dense)
// and with a pair scorer (cross-encoder).
package rerank

import (
	"errors"
	"log/slog"
)

var (
	// ErrEmbedderRequired is returned when NewDense gets a nil embedder.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrScorerRequired is returned when NewCrossEncoder gets a nil scorer.
	ErrScorerRequired = errors.New("pair scorer required")
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
	defaultCacheSize   = 4096
)

type options struct {
	batchSize   int
	concurrency int
	cacheSize   int
	logger      *slog.Logger
}

func defaultOptions() options {
	return options{
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		cacheSize:   defaultCacheSize,
		logger:      slog.Default(),
	}
}

// Option configures a reranker.
type Option func(*options)

// WithBatchSize sets how many texts go to the model per request.
func WithBatchSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithConcurrency sets how many batches may be in flight at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithCacheSize sets the number of embeddings kept by the dense reranker.
func WithCacheSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// batches splits n items into [start, end) ranges of at most size
func batches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
