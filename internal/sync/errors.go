package sync

import "errors"

var (
	// ErrSyncInProgress is returned when a run for the same owner is active
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrOwnerNotFound is returned when the owner has no record
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrEmptyContent is returned by IngestItem when extraction yields no text
	ErrEmptyContent = errors.New("document has no text")
	// ErrNotAFile is returned by IngestItem for folders and deleted items
	ErrNotAFile = errors.New("item is not a file")

	errWorkerAborted = errors.New("worker exited without a result")
)
