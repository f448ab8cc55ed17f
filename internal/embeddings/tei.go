package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var _ PairScorer = (*TEIScorer)(nil)

// TEIScorer scores pairs with a cross-encoder served by
// text-embeddings-inference through its /rerank endpoint.
type TEIScorer struct {
	baseURL string
	client  *http.Client
	retry   RetryConfig
}

// NewTEIScorer creates a pair scorer for the server at baseURL
func NewTEIScorer(baseURL string) *TEIScorer {
	return &TEIScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		retry: DefaultRetryConfig(),
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ScorePairs returns one relevance score per text, in input order
func (s *TEIScorer) ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	req := rerankRequest{
		Query:     query,
		Texts:     texts,
		RawScores: true,
		Truncate:  true,
	}

	return retryWithBackoff(ctx, s.retry, func() ([]float64, error) {
		var results []rerankResult
		if err := postJSON(ctx, s.client, "tei", s.baseURL+"/rerank", req, &results); err != nil {
			return nil, err
		}
		if len(results) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d scores, got %d", ErrProvider, len(texts), len(results))
		}

		scores := make([]float64, len(texts))
		for _, r := range results {
			if r.Index < 0 || r.Index >= len(texts) {
				return nil, fmt.Errorf("%w: invalid score index: %d", ErrProvider, r.Index)
			}
			scores[r.Index] = r.Score
		}
		return scores, nil
	})
}

type teiInfo struct {
	ModelID string `json:"model_id"`
}

// ModelID returns the model the server reports through /info
func (s *TEIScorer) ModelID(ctx context.Context) (string, error) {
	var info teiInfo
	if err := getJSON(ctx, s.client, "tei", s.baseURL+"/info", &info); err != nil {
		return "", err
	}
	return info.ModelID, nil
}

// CheckModel fails with ErrModelMismatch when the server does not run want.
// An empty want accepts any model.
func (s *TEIScorer) CheckModel(ctx context.Context, want string) error {
	if want == "" {
		return nil
	}
	got, err := s.ModelID(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: server runs %q, configured %q", ErrModelMismatch, got, want)
	}
	return nil
}
