package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Ensure LMStudioClient implements Embedder interface at compile time
var _ Embedder = (*LMStudioClient)(nil)

// LMStudioClient represents an LMStudio embedding client using OpenAI-compatible API
type LMStudioClient struct {
	baseURL string
	model   string
	client  *http.Client
	retry   RetryConfig
}

// NewLMStudioClient creates a new LMStudio embedding client
func NewLMStudioClient(baseURL, model string) *LMStudioClient {
	return &LMStudioClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout: 3 * time.Minute, // Generous timeout for large models
		},
		retry: DefaultRetryConfig(),
	}
}

// openAIEmbedRequest is the request format for OpenAI-compatible /v1/embeddings endpoint
type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// openAIEmbedResponse is the response format from OpenAI-compatible /v1/embeddings endpoint
type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed generates an embedding for a single text string
func (c *LMStudioClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple text strings in a single request
func (c *LMStudioClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	req := openAIEmbedRequest{
		Input: texts,
		Model: c.model,
	}

	return retryWithBackoff(ctx, c.retry, func() ([][]float32, error) {
		var embedResp openAIEmbedResponse
		if err := postJSON(ctx, c.client, "lmstudio", c.baseURL+"/v1/embeddings", req, &embedResp); err != nil {
			return nil, err
		}
		if len(embedResp.Data) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProvider, len(texts), len(embedResp.Data))
		}

		// Extract embeddings in order
		result := make([][]float32, len(texts))
		for _, data := range embedResp.Data {
			if data.Index < 0 || data.Index >= len(texts) {
				return nil, fmt.Errorf("%w: invalid embedding index: %d", ErrProvider, data.Index)
			}
			result[data.Index] = data.Embedding
		}
		return result, nil
	})
}

// Health checks if the LMStudio service is available with a model loaded
func (c *LMStudioClient) Health(ctx context.Context) error {
	var modelsResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := getJSON(ctx, c.client, "lmstudio", c.baseURL+"/v1/models", &modelsResp); err != nil {
		return err
	}

	// LMStudio might not list exact model names, so any loaded model will do
	if len(modelsResp.Data) == 0 {
		return fmt.Errorf("no models loaded in lmstudio")
	}
	return nil
}
