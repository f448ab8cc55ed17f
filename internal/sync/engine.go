// Package sync keeps an owner's records and search index consistent with
// their remote drive.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/renderinc/drive-search/internal/onedrive"
	"github.com/renderinc/drive-search/internal/search"
	"github.com/renderinc/drive-search/internal/storage"
)

const (
	// DefaultWorkers bounds concurrent item processing within a run
	DefaultWorkers = 8
	// DefaultSource tags every record and index entry
	DefaultSource = "onedrive"
)

// Remote is one owner's view of the remote file store
type Remote interface {
	EnsureValid(ctx context.Context) error
	ListChanges(ctx context.Context, cursor string) ([]onedrive.Item, string, error)
	FetchContent(ctx context.Context, id string) ([]byte, error)
	GetItem(ctx context.Context, id string) (*onedrive.Item, error)
}

// RemoteFactory returns the remote for an owner
type RemoteFactory func(owner *storage.Owner) Remote

// Store is the record store the engine reads and writes
type Store interface {
	GetOwner(ctx context.Context, id int64) (*storage.Owner, error)
	SetCursor(ctx context.Context, ownerID int64, cursor string) error
	SetSyncStatus(ctx context.Context, ownerID int64, status storage.SyncStatus, at time.Time) error
	DocumentsByOwner(ctx context.Context, ownerID int64) (map[string]*storage.Document, error)
	GetDocument(ctx context.Context, ownerID int64, fileID string) (*storage.Document, error)
	ContentHashes(ctx context.Context, ownerID int64) (map[string]struct{}, error)
	ApplyDocuments(ctx context.Context, ownerID int64, changes []storage.DocumentChange) error
	MarkIndexed(ctx context.Context, ownerID int64, fileIDs []string) error
	DeleteDocument(ctx context.Context, ownerID int64, fileID string) error
}

// Index is the lexical index the engine writes
type Index interface {
	UpsertBulk(ctx context.Context, ownerID int64, docs []search.Document) (search.BulkResult, error)
	ExistingIDsAndHashes(ctx context.Context, ownerID int64) (map[string]struct{}, map[string]struct{})
	Delete(ownerID int64, id string) error
}

// Stats holds sync statistics for one run
type Stats struct {
	RunID       string
	OwnerID     int64
	FirstRun    bool
	Changes     int
	New         int
	Updated     int
	Deleted     int
	Skipped     int
	Unsupported int
	Failed      int
	Indexed     int
	IndexFailed int
	Bytes       int64
	Duration    time.Duration
}

// Engine runs delta syncs for owners
type Engine struct {
	store   Store
	index   Index
	remotes RemoteFactory
	pool    *ants.Pool
	source  string
	logger  *slog.Logger
	now     func() time.Time

	locks   ownerLocks
	running gosync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine) error

// WithWorkers sets the item worker pool size.
// Default is DefaultWorkers.
func WithWorkers(size int) Option {
	return func(e *Engine) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if e.pool != nil {
			e.pool.Release()
		}
		e.pool = pool
		return nil
	}
}

// WithSource sets the source tag stored on documents.
func WithSource(source string) Option {
	return func(e *Engine) error {
		if source != "" {
			e.source = source
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a sync engine
func NewEngine(store Store, index Index, remotes RemoteFactory, opts ...Option) (*Engine, error) {
	pool, err := ants.NewPool(DefaultWorkers)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:   store,
		index:   index,
		remotes: remotes,
		pool:    pool,
		source:  DefaultSource,
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range opts {
		if optErr := opt(e); optErr != nil {
			e.pool.Release()
			return nil, optErr
		}
	}
	e.logger = e.logger.With("component", "sync")

	return e, nil
}

// Release waits for background runs and frees the worker pool
func (e *Engine) Release() {
	e.running.Wait()
	e.pool.Release()
}

// Wait blocks until every run started by StartAsync has finished
func (e *Engine) Wait() {
	e.running.Wait()
}

// StartAsync launches a run for the owner in the background and returns at
// once. It fails with ErrSyncInProgress while a run for the owner is active.
func (e *Engine) StartAsync(ctx context.Context, ownerID int64) error {
	lock := e.locks.get(ownerID)
	if !lock.TryAcquire() {
		return ErrSyncInProgress
	}

	ctx = context.WithoutCancel(ctx)
	e.running.Add(1)
	go func() {
		defer e.running.Done()
		defer lock.Release()
		if _, err := e.run(ctx, ownerID); err != nil {
			e.logger.Error("background sync failed", "owner", ownerID, "err", err)
		}
	}()
	return nil
}

// Run syncs the owner and records the outcome in the owner's sync status
func (e *Engine) Run(ctx context.Context, ownerID int64) (*Stats, error) {
	lock := e.locks.get(ownerID)
	if !lock.TryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer lock.Release()

	return e.run(ctx, ownerID)
}

func (e *Engine) run(ctx context.Context, ownerID int64) (*Stats, error) {
	if err := e.store.SetSyncStatus(ctx, ownerID, storage.SyncRunning, e.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrOwnerNotFound, ownerID)
		}
		return nil, fmt.Errorf("set status running: %w", err)
	}

	stats, err := e.SyncOwner(ctx, ownerID)

	status := storage.SyncDone
	if err != nil {
		status = storage.SyncError
		e.logger.Error("sync failed", "owner", ownerID, "err", err)
	}
	if serr := e.store.SetSyncStatus(ctx, ownerID, status, e.now()); serr != nil {
		e.logger.Error("set sync status failed", "owner", ownerID, "status", status, "err", serr)
		if err == nil {
			err = fmt.Errorf("set status %s: %w", status, serr)
		}
	}

	return stats, err
}

// SyncOwner fetches the owner's changes since the stored cursor and applies
// them to the record store and the index. It does not touch sync status.
func (e *Engine) SyncOwner(ctx context.Context, ownerID int64) (*Stats, error) {
	start := time.Now()
	stats := &Stats{RunID: uuid.NewString(), OwnerID: ownerID}
	logger := e.logger.With("owner", ownerID, "run", stats.RunID)

	owner, err := e.store.GetOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return stats, fmt.Errorf("%w: %d", ErrOwnerNotFound, ownerID)
		}
		return stats, fmt.Errorf("get owner: %w", err)
	}

	remote := e.remotes(owner)
	if err := remote.EnsureValid(ctx); err != nil {
		return stats, fmt.Errorf("ensure credentials: %w", err)
	}

	cursor := ""
	if owner.DeltaLink != nil {
		cursor = *owner.DeltaLink
	}
	stats.FirstRun = owner.DeltaLink == nil

	items, next, err := remote.ListChanges(ctx, cursor)
	if err != nil {
		return stats, fmt.Errorf("list changes: %w", err)
	}

	// The cursor is saved before any item is processed; a crash from here on
	// drops this batch instead of replaying it.
	if err := e.store.SetCursor(ctx, ownerID, next); err != nil {
		return stats, fmt.Errorf("save cursor: %w", err)
	}

	stats.Changes = len(items)
	logger.Info("fetched changes", "changes", len(items), "first_run", stats.FirstRun)
	if len(items) == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	existing, err := e.store.DocumentsByOwner(ctx, ownerID)
	if err != nil {
		return stats, fmt.Errorf("load documents: %w", err)
	}
	known, err := e.store.ContentHashes(ctx, ownerID)
	if err != nil {
		return stats, fmt.Errorf("load content hashes: %w", err)
	}
	_, indexed := e.index.ExistingIDsAndHashes(ctx, ownerID)
	for h := range indexed {
		known[h] = struct{}{}
	}

	var files, deleted []onedrive.Item
	for _, item := range items {
		switch {
		case item.IsDeleted():
			deleted = append(deleted, item)
		case item.IsFile():
			files = append(files, item)
		}
	}

	forgetDeleted(known, existing, deleted)

	job := itemJob{
		remote:   remote,
		firstRun: stats.FirstRun,
		existing: existing,
		known:    known,
		source:   e.source,
	}
	results := e.processAll(ctx, job, files)

	changes, payloads := e.aggregate(results, stats, logger)

	for _, item := range deleted {
		if err := e.deleteItem(ctx, ownerID, item.ID, existing); err != nil {
			return stats, err
		}
		if _, ok := existing[item.ID]; ok {
			stats.Deleted++
		}
	}

	if err := e.store.ApplyDocuments(ctx, ownerID, changes); err != nil {
		return stats, fmt.Errorf("apply documents: %w", err)
	}

	if len(payloads) > 0 {
		result, err := e.index.UpsertBulk(ctx, ownerID, payloads)
		if err != nil {
			return stats, fmt.Errorf("index documents: %w", err)
		}
		stats.Indexed = len(result.Succeeded)
		stats.IndexFailed = len(result.Failed)
		for id, ferr := range result.Failed {
			logger.Warn("index write failed", "item", id, "err", ferr)
		}
		if err := e.store.MarkIndexed(ctx, ownerID, result.Succeeded); err != nil {
			return stats, fmt.Errorf("mark indexed: %w", err)
		}
	}

	stats.Duration = time.Since(start)
	logger.Info("sync complete",
		"new", stats.New,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
		"unsupported", stats.Unsupported,
		"failed", stats.Failed,
		"indexed", stats.Indexed,
		"took", stats.Duration,
	)
	return stats, nil
}

// processAll runs every item through the worker pool. Results keep item
// order, so aggregation does not depend on completion order.
func (e *Engine) processAll(ctx context.Context, job itemJob, files []onedrive.Item) []itemResult {
	results := make([]itemResult, len(files))
	var wg gosync.WaitGroup
	for i, item := range files {
		results[i] = itemResult{item: item, outcome: outcomeFailed, err: errWorkerAborted}
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			results[i] = job.process(ctx, item)
		})
		if err != nil {
			wg.Done()
			results[i] = itemResult{item: item, outcome: outcomeFailed, err: fmt.Errorf("submit: %w", err)}
		}
	}
	wg.Wait()
	return results
}

// aggregate turns worker results into record changes and index payloads.
// On incremental runs a hash produced twice in one run is kept once.
func (e *Engine) aggregate(results []itemResult, stats *Stats, logger *slog.Logger) ([]storage.DocumentChange, []search.Document) {
	var changes []storage.DocumentChange
	var payloads []search.Document
	seen := make(map[string]bool)

	for _, r := range results {
		switch r.outcome {
		case outcomeUnsupported:
			stats.Unsupported++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
			logger.Warn("item failed", "item", r.item.ID, "name", r.item.Name, "err", r.err)
		case outcomeProduced:
			hash := r.change.ContentHash
			if !stats.FirstRun && seen[hash] {
				stats.Skipped++
				continue
			}
			seen[hash] = true
			if r.change.IsNew {
				stats.New++
			} else {
				stats.Updated++
			}
			stats.Bytes += r.change.Size
			changes = append(changes, r.change)
			payloads = append(payloads, r.payload)
		}
	}
	return changes, payloads
}

// forgetDeleted drops from known the hashes held only by records this delta
// deletes, so the same bytes arriving under a new id are not skipped.
func forgetDeleted(known map[string]struct{}, existing map[string]*storage.Document, deleted []onedrive.Item) {
	if len(deleted) == 0 {
		return
	}
	gone := make(map[string]bool, len(deleted))
	for _, item := range deleted {
		gone[item.ID] = true
	}

	live := make(map[string]bool)
	for id, doc := range existing {
		if !gone[id] {
			live[doc.ContentHash] = true
		}
	}
	for id := range gone {
		doc, ok := existing[id]
		if ok && !live[doc.ContentHash] {
			delete(known, doc.ContentHash)
		}
	}
}

// deleteItem removes a record and its index entry after a remote deletion
func (e *Engine) deleteItem(ctx context.Context, ownerID int64, fileID string, existing map[string]*storage.Document) error {
	if err := e.store.DeleteDocument(ctx, ownerID, fileID); err != nil {
		return fmt.Errorf("delete document %s: %w", fileID, err)
	}
	if _, ok := existing[fileID]; !ok {
		return nil
	}
	if err := e.index.Delete(ownerID, fileID); err != nil {
		e.logger.Warn("delete index entry failed", "owner", ownerID, "item", fileID, "err", err)
	}
	return nil
}

// IngestItem fetches, extracts and indexes a single item, typically right
// after an upload. Extraction errors are returned to the caller.
func (e *Engine) IngestItem(ctx context.Context, ownerID int64, item onedrive.Item) (*search.Document, error) {
	if !item.IsFile() {
		return nil, fmt.Errorf("%w: %s", ErrNotAFile, item.Name)
	}

	owner, err := e.store.GetOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrOwnerNotFound, ownerID)
		}
		return nil, fmt.Errorf("get owner: %w", err)
	}

	remote := e.remotes(owner)
	if err := remote.EnsureValid(ctx); err != nil {
		return nil, fmt.Errorf("ensure credentials: %w", err)
	}

	existing, err := e.store.GetDocument(ctx, ownerID, item.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get document: %w", err)
	}

	payload, change, err := fetchAndExtract(ctx, remote, item, e.source)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmptyContent, item.Name)
	}
	change.IsNew = existing == nil

	if err := e.store.ApplyDocuments(ctx, ownerID, []storage.DocumentChange{*change}); err != nil {
		return nil, fmt.Errorf("apply document: %w", err)
	}

	result, err := e.index.UpsertBulk(ctx, ownerID, []search.Document{*payload})
	if err != nil {
		return nil, fmt.Errorf("index document: %w", err)
	}
	if ferr, failed := result.Failed[item.ID]; failed {
		return nil, fmt.Errorf("index document: %w", ferr)
	}
	if err := e.store.MarkIndexed(ctx, ownerID, result.Succeeded); err != nil {
		return nil, fmt.Errorf("mark indexed: %w", err)
	}

	e.logger.Info("ingested item", "owner", ownerID, "item", item.ID, "name", item.Name)
	return payload, nil
}
