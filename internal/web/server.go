// Package web serves the JSON API and the change-notification webhook.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/renderinc/drive-search/internal/extract"
	"github.com/renderinc/drive-search/internal/onedrive"
	"github.com/renderinc/drive-search/internal/search"
	"github.com/renderinc/drive-search/internal/storage"
	"github.com/renderinc/drive-search/internal/sync"
)

const (
	// OwnerHeader identifies the caller; authentication happens upstream
	OwnerHeader = "X-Owner-ID"

	maxUploadBytes = 32 << 20
)

// Searcher runs the full search cascade for an owner
type Searcher interface {
	Run(ctx context.Context, ownerID int64, query string) ([]search.Candidate, error)
}

// Syncer starts background syncs and ingests single files
type Syncer interface {
	StartAsync(ctx context.Context, ownerID int64) error
	IngestItem(ctx context.Context, ownerID int64, item onedrive.Item) (*search.Document, error)
}

// Store is the part of the record store the API reads
type Store interface {
	GetOwner(ctx context.Context, id int64) (*storage.Owner, error)
	GetSyncStatus(ctx context.Context, ownerID int64) (storage.SyncStatus, *time.Time, error)
}

// Drive is the per-owner remote file access used for browsing, uploads and previews
type Drive interface {
	ListChildren(ctx context.Context, folderID string) ([]onedrive.Item, error)
	Upload(ctx context.Context, parentID, filename string, content []byte) (*onedrive.Item, error)
	GetItem(ctx context.Context, id string) (*onedrive.Item, error)
	PreviewURL(ctx context.Context, id string) (string, error)
}

// DriveFactory returns the remote drive for an owner
type DriveFactory func(owner *storage.Owner) Drive

type Server struct {
	store    Store
	searcher Searcher
	syncer   Syncer
	drives   DriveFactory
	logger   *slog.Logger
}

type SearchResponse struct {
	Query   string             `json:"query"`
	Count   int                `json:"count"`
	Results []search.Candidate `json:"results"`
}

type StatusResponse struct {
	Status    storage.SyncStatus `json:"status"`
	UpdatedAt *time.Time         `json:"updated_at"`
}

type UploadResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	WebURL  string `json:"web_url,omitempty"`
	Indexed bool   `json:"indexed"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// notification is one entry of a Graph change-notification payload. The
// subscription's clientState carries the owner id.
type notification struct {
	ClientState    string `json:"clientState"`
	SubscriptionID string `json:"subscriptionId"`
	Resource       string `json:"resource"`
}

func NewServer(store Store, searcher Searcher, syncer Syncer, drives DriveFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    store,
		searcher: searcher,
		syncer:   syncer,
		drives:   drives,
		logger:   logger.With("component", "web"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("POST /api/sync", s.handleStartSync)
	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("POST /api/files", s.handleUpload)
	mux.HandleFunc("GET /api/files/{id}/preview", s.handlePreview)
	mux.HandleFunc("GET /webhook/notifications", s.handleNotifications)
	mux.HandleFunc("POST /webhook/notifications", s.handleNotifications)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// owner resolves the calling owner, writing the error response itself when
// it cannot.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (*storage.Owner, bool) {
	raw := r.Header.Get(OwnerHeader)
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil {
		writeError(w, http.StatusUnauthorized, "missing or malformed "+OwnerHeader+" header")
		return nil, false
	}

	owner, err := s.store.GetOwner(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown owner")
		return nil, false
	}
	if err != nil {
		s.logger.Error("load owner failed", "owner", id, "err", err)
		writeError(w, http.StatusInternalServerError, "load owner failed")
		return nil, false
	}
	return owner, true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	results, err := s.searcher.Run(r.Context(), owner.ID, query)
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	case errors.Is(err, search.ErrIndexUnavailable):
		s.logger.Error("search failed", "owner", owner.ID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "search index unavailable")
		return
	case err != nil:
		s.logger.Error("search failed", "owner", owner.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	if results == nil {
		results = []search.Candidate{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Count: len(results), Results: results})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	status, at, err := s.store.GetSyncStatus(r.Context(), owner.ID)
	if err != nil {
		s.logger.Error("read sync status failed", "owner", owner.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "read sync status failed")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: status, UpdatedAt: at})
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	err := s.syncer.StartAsync(r.Context(), owner.ID)
	if errors.Is(err, sync.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("start sync failed", "owner", owner.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "start sync failed")
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: storage.SyncRunning})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	items, err := s.drives(owner).ListChildren(r.Context(), r.URL.Query().Get("folder_id"))
	if err != nil {
		s.remoteError(w, owner.ID, "list files", err)
		return
	}
	if items == nil {
		items = []onedrive.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	item, err := s.drives(owner).Upload(r.Context(), r.FormValue("folder_id"), header.Filename, content)
	if err != nil {
		s.remoteError(w, owner.ID, "upload", err)
		return
	}

	resp := UploadResponse{ID: item.ID, Name: item.Name, WebURL: item.WebURL}
	_, err = s.syncer.IngestItem(r.Context(), owner.ID, *item)
	switch {
	case err == nil:
		resp.Indexed = true
		writeJSON(w, http.StatusCreated, resp)
	case errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrExtractionFailed),
		errors.Is(err, sync.ErrEmptyContent):
		// the file is stored remotely even though it cannot be searched
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, onedrive.ErrRemoteStore), errors.Is(err, onedrive.ErrCredentialRefresh):
		s.remoteError(w, owner.ID, "ingest upload", err)
	default:
		s.logger.Error("ingest upload failed", "owner", owner.ID, "item", item.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	drive := s.drives(owner)

	target, err := drive.PreviewURL(r.Context(), id)
	if err != nil || target == "" {
		item, ierr := drive.GetItem(r.Context(), id)
		if ierr != nil {
			s.remoteError(w, owner.ID, "preview", ierr)
			return
		}
		target = item.WebURL
	}
	if target == "" {
		writeError(w, http.StatusNotFound, "no preview available")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleNotifications answers subscription validation and turns change
// notifications into background syncs.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, token)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "validationToken is required")
		return
	}

	var payload struct {
		Value []notification `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed notification payload")
		return
	}

	seen := make(map[int64]bool)
	for _, n := range payload.Value {
		ownerID, err := strconv.ParseInt(n.ClientState, 10, 64)
		if err != nil {
			s.logger.Warn("notification without owner", "subscription", n.SubscriptionID, "client_state", n.ClientState)
			continue
		}
		if seen[ownerID] {
			continue
		}
		seen[ownerID] = true

		err = s.syncer.StartAsync(r.Context(), ownerID)
		switch {
		case err == nil:
			s.logger.Info("sync triggered by notification", "owner", ownerID, "resource", n.Resource)
		case errors.Is(err, sync.ErrSyncInProgress):
			s.logger.Debug("sync already running", "owner", ownerID)
		default:
			s.logger.Warn("start sync from notification failed", "owner", ownerID, "err", err)
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) remoteError(w http.ResponseWriter, ownerID int64, op string, err error) {
	s.logger.Error(op+" failed", "owner", ownerID, "err", err)
	switch {
	case errors.Is(err, onedrive.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, onedrive.ErrCredentialRefresh):
		writeError(w, http.StatusUnauthorized, "drive credentials expired")
	default:
		writeError(w, http.StatusBadGateway, op+" failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
