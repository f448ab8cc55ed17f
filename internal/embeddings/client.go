// Package embeddings holds the clients for the model servers behind the
// rerank stages: sentence embedders and a pair scorer.
package embeddings

import (
	"context"
	"fmt"
)

// Embedder is the interface for embedding providers (Ollama, LMStudio, OpenAI)
type Embedder interface {
	// Embed generates an embedding for a single text string
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple text strings in a single request
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Health checks if the service is available and the model is loaded
	Health(ctx context.Context) error
}

// PairScorer scores (query, text) pairs jointly. Scores are returned in the
// order of texts; higher means more relevant.
type PairScorer interface {
	ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error)
}

// NewEmbedder creates a new embedding client based on the provider type
// Supported providers: "ollama", "lmstudio", "openai"
func NewEmbedder(provider, baseURL, model, token string) (Embedder, error) {
	if baseURL == "" {
		baseURL = GetDefaultURL(provider)
	}
	if model == "" {
		model = GetDefaultModel(provider)
	}

	switch provider {
	case "ollama":
		return NewClient(baseURL, model), nil
	case "lmstudio":
		return NewLMStudioClient(baseURL, model), nil
	case "openai":
		return NewOpenAIClient(baseURL, model, token)
	default:
		return nil, fmt.Errorf("%w: %s (supported: ollama, lmstudio, openai)", ErrUnsupportedProvider, provider)
	}
}

// SupportedProvider reports whether NewEmbedder knows provider
func SupportedProvider(provider string) bool {
	switch provider {
	case "ollama", "lmstudio", "openai":
		return true
	}
	return false
}

// GetDefaultURL returns the default base URL for a given provider
func GetDefaultURL(provider string) string {
	switch provider {
	case "ollama":
		return "http://localhost:11434"
	case "lmstudio":
		return "http://localhost:1234"
	case "openai":
		return "https://api.openai.com/v1"
	default:
		return ""
	}
}

// GetDefaultModel returns the default model name for a given provider
func GetDefaultModel(provider string) string {
	switch provider {
	case "ollama":
		return "all-minilm"
	case "lmstudio":
		return "text-embedding-all-minilm-l6-v2-embedding"
	case "openai":
		return "text-embedding-3-small"
	default:
		return ""
	}
}
