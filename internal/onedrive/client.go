// Package onedrive talks to a user's drive through Microsoft Graph and keeps
// the user's access token fresh.
package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Graph v1.0 endpoint
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	defaultRequestsPerSecond = 10
	defaultBurst             = 10
	maxErrorBody             = 4096
)

// TokenProvider supplies a bearer token for each request
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client is a Microsoft Graph drive client scoped to one signed-in user
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithBaseURL points the client at another Graph-compatible endpoint
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithRateLimit sets the sustained request rate
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			burst := int(requestsPerSecond)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		}
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Graph client that authenticates through tokens
func NewClient(tokens TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "onedrive")
	return c
}

// do performs an authenticated request; non-2xx responses become *RemoteError
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRemoteStore, method, rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RemoteError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, rawURL string, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, method, rawURL, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrRemoteStore, rawURL, err)
	}
	return nil
}

// resolve turns a Graph-relative path into an absolute URL. Absolute links
// such as delta and next links are used unchanged.
func (c *Client) resolve(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return c.baseURL + p
}

// ListChanges returns every item changed since cursor and the cursor to use
// next time. An empty cursor walks the whole drive.
func (c *Client) ListChanges(ctx context.Context, cursor string) ([]Item, string, error) {
	next := c.resolve("/me/drive/root/delta")
	if cursor != "" {
		next = c.resolve(cursor)
	}

	var items []Item
	for pages := 0; next != ""; pages++ {
		var page itemPage
		if err := c.doJSON(ctx, http.MethodGet, next, nil, "", &page); err != nil {
			return nil, "", fmt.Errorf("list changes: %w", err)
		}
		items = append(items, page.Value...)

		if page.DeltaLink != "" {
			c.logger.Debug("delta complete", "items", len(items), "pages", pages+1)
			return items, page.DeltaLink, nil
		}
		next = page.NextLink
	}

	return nil, "", fmt.Errorf("%w: delta response ended without a delta link", ErrRemoteStore)
}

// FetchContent downloads an item's bytes
func (c *Client) FetchContent(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.resolve("/me/drive/items/"+url.PathEscape(id)+"/content"), nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch content %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read content %s: %v", ErrRemoteStore, id, err)
	}
	return data, nil
}

// GetItem returns an item's metadata
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := c.doJSON(ctx, http.MethodGet, c.resolve("/me/drive/items/"+url.PathEscape(id)), nil, "", &item); err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return &item, nil
}

// ListChildren lists a folder, or the drive root when folderID is empty.
// Folders come first, then files, each by case-insensitive name.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	next := c.resolve("/me/drive/root/children")
	if folderID != "" {
		next = c.resolve("/me/drive/items/" + url.PathEscape(folderID) + "/children")
	}

	var items []Item
	for next != "" {
		var page itemPage
		if err := c.doJSON(ctx, http.MethodGet, next, nil, "", &page); err != nil {
			return nil, fmt.Errorf("list children: %w", err)
		}
		items = append(items, page.Value...)
		next = page.NextLink
	}

	sort.SliceStable(items, func(a, b int) bool {
		fa, fb := items[a].File != nil, items[b].File != nil
		if fa != fb {
			return !fa
		}
		return strings.ToLower(items[a].Name) < strings.ToLower(items[b].Name)
	})
	return items, nil
}

// Upload stores content as filename in the given folder, or the drive root
// when parentID is empty, replacing any existing file of that name.
func (c *Client) Upload(ctx context.Context, parentID, filename string, content []byte) (*Item, error) {
	target := "/me/drive/root:/" + url.PathEscape(filename) + ":/content"
	if parentID != "" {
		target = "/me/drive/items/" + url.PathEscape(parentID) + ":/" + url.PathEscape(filename) + ":/content"
	}

	var item Item
	err := c.doJSON(ctx, http.MethodPut, c.resolve(target), bytes.NewReader(content), "application/octet-stream", &item)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	return &item, nil
}

// PreviewURL returns a short-lived embeddable preview link for an item
func (c *Client) PreviewURL(ctx context.Context, id string) (string, error) {
	var preview struct {
		GetURL string `json:"getUrl"`
	}
	err := c.doJSON(ctx, http.MethodPost, c.resolve("/me/drive/items/"+url.PathEscape(id)+"/preview"),
		strings.NewReader("{}"), "application/json", &preview)
	if err != nil {
		return "", fmt.Errorf("preview %s: %w", id, err)
	}
	return preview.GetURL, nil
}
