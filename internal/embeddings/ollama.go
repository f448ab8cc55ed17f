package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var _ Embedder = (*Client)(nil)

// Client represents an Ollama embedding client
type Client struct {
	baseURL string
	model   string
	client  *http.Client
	retry   RetryConfig
}

// NewClient creates a new Ollama embedding client
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		retry: DefaultRetryConfig(),
	}
}

// embedRequest is the request format for Ollama's /api/embed endpoint
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the response format from Ollama's /api/embed endpoint
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for a single text string
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
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
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	req := embedRequest{
		Model: c.model,
		Input: texts,
	}

	return retryWithBackoff(ctx, c.retry, func() ([][]float32, error) {
		var embedResp embedResponse
		if err := postJSON(ctx, c.client, "ollama", c.baseURL+"/api/embed", req, &embedResp); err != nil {
			return nil, err
		}
		if len(embedResp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProvider, len(texts), len(embedResp.Embeddings))
		}
		return embedResp.Embeddings, nil
	})
}

// Health checks if the Ollama service is available and the model is loaded
func (c *Client) Health(ctx context.Context) error {
	var tagsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := getJSON(ctx, c.client, "ollama", c.baseURL+"/api/tags", &tagsResp); err != nil {
		return err
	}

	// Compare base names without tags
	wantedModel := stripModelTag(c.model)
	for _, model := range tagsResp.Models {
		if stripModelTag(model.Name) == wantedModel {
			return nil
		}
	}

	return fmt.Errorf("model %s not found (run: ollama pull %s)", c.model, c.model)
}

// stripModelTag removes the tag suffix from a model name (e.g., "model:latest" -> "model")
func stripModelTag(modelName string) string {
	if i := strings.IndexByte(modelName, ':'); i >= 0 {
		return modelName[:i]
	}
	return modelName
}
