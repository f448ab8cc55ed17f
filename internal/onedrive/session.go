package onedrive

import (
	"log/slog"

	"github.com/renderinc/drive-search/internal/storage"
	"golang.org/x/oauth2"
)

// Session pairs an owner's credentials with a Graph client that
// authenticates through them.
type Session struct {
	*Client
	*Credentials
}

// NewSession builds the remote access for one owner
func NewSession(config *oauth2.Config, store TokenStore, owner *storage.Owner, logger *slog.Logger, opts ...ClientOption) *Session {
	creds := NewCredentials(config, store, owner, logger)
	opts = append([]ClientOption{WithLogger(logger)}, opts...)
	return &Session{
		Client:      NewClient(creds, opts...),
		Credentials: creds,
	}
}
