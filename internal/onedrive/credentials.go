package onedrive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/renderinc/drive-search/internal/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// reservedScopes are granted implicitly and rejected on refresh requests
var reservedScopes = map[string]bool{
	"openid":         true,
	"profile":        true,
	"offline_access": true,
}

// FilterScopes drops the OpenID scopes a refresh request must not carry
func FilterScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !reservedScopes[s] {
			out = append(out, s)
		}
	}
	return out
}

// NewOAuthConfig builds the Azure AD OAuth2 configuration for tenant
func NewOAuthConfig(clientID, clientSecret, tenant, redirectURL string, scopes []string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}

// TokenStore persists refreshed credentials
type TokenStore interface {
	SaveToken(ctx context.Context, ownerID int64, accessToken, refreshToken string, expires time.Time) error
}

// Credentials holds one owner's access token and refreshes it on demand
type Credentials struct {
	config  *oauth2.Config
	store   TokenStore
	ownerID int64
	logger  *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

var _ TokenProvider = (*Credentials)(nil)

// NewCredentials seeds a supplier from the owner's stored tokens
func NewCredentials(config *oauth2.Config, store TokenStore, owner *storage.Owner, logger *slog.Logger) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	token := &oauth2.Token{
		AccessToken:  owner.AccessToken,
		RefreshToken: owner.RefreshToken,
		TokenType:    "Bearer",
	}
	if owner.TokenExpires != nil {
		token.Expiry = *owner.TokenExpires
	}
	return &Credentials{
		config:  config,
		store:   store,
		ownerID: owner.ID,
		logger:  logger.With("component", "credentials", "owner", owner.ID),
		token:   token,
	}
}

// EnsureValid refreshes and persists the access token if it is missing or
// expired.
func (c *Credentials) EnsureValid(ctx context.Context) error {
	_, err := c.AccessToken(ctx)
	return err
}

// AccessToken returns a valid access token, refreshing it first if needed
func (c *Credentials) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.AccessToken != "" && c.token.Valid() {
		return c.token.AccessToken, nil
	}
	if c.token.RefreshToken == "" {
		return "", fmt.Errorf("%w: owner %d has no refresh token", ErrCredentialRefresh, c.ownerID)
	}

	cfg := *c.config
	cfg.Scopes = FilterScopes(c.config.Scopes)
	c.logger.Debug("refreshing access token", "scopes", cfg.Scopes)

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: c.token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialRefresh, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = c.token.RefreshToken
	}

	if err := c.store.SaveToken(ctx, c.ownerID, fresh.AccessToken, fresh.RefreshToken, fresh.Expiry); err != nil {
		return "", fmt.Errorf("%w: save token: %v", ErrCredentialRefresh, err)
	}

	c.token = fresh
	c.logger.Debug("access token refreshed", "expires", fresh.Expiry)
	return fresh.AccessToken, nil
}
