package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var _ Embedder = (*OpenAIClient)(nil)

// OpenAIClient embeds text through any OpenAI-compatible embeddings API
type OpenAIClient struct {
	embedder lcembeddings.Embedder
	model    string
	logger   *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible client. Local servers that
// do not check credentials accept the placeholder token "none".
func NewOpenAIClient(baseURL, model, token string) (*OpenAIClient, error) {
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(client, lcembeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &OpenAIClient{
		embedder: embedder,
		model:    model,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

// Embed generates an embedding for a single text string
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return c.embedder.EmbedQuery(ctx, text)
}

// EmbedBatch generates embeddings for multiple text strings
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	c.logger.Debug("generating embeddings", "count", len(texts), "model", c.model)
	vecs, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProvider, len(texts), len(vecs))
	}
	return vecs, nil
}

// Health embeds a short string to confirm the API answers
func (c *OpenAIClient) Health(ctx context.Context) error {
	if _, err := c.embedder.EmbedQuery(ctx, "health"); err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return nil
}
