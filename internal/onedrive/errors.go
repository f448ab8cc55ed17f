package onedrive

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRemoteStore covers every failed exchange with the remote file store
	ErrRemoteStore = errors.New("remote store error")
	// ErrCredentialRefresh is returned when a valid access token cannot be obtained
	ErrCredentialRefresh = errors.New("credential refresh failed")
	// ErrNotFound is matched by a 404 from the remote store
	ErrNotFound = errors.New("item not found")
)

// RemoteError is a non-2xx response from Microsoft Graph
type RemoteError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("graph %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Is matches ErrRemoteStore, and ErrNotFound for 404 responses
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemoteStore:
		return true
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
