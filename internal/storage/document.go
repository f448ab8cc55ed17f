package storage

import "time"

// SyncStatus is the client-visible state of an owner's most recent sync.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncRunning SyncStatus = "running"
	SyncDone    SyncStatus = "done"
	SyncError   SyncStatus = "error"
)

// Owner is the principal whose documents are synced, indexed and searched
type Owner struct {
	ID            int64      `db:"id"`
	MSID          string     `db:"ms_id"`
	Name          string     `db:"name"`
	Email         string     `db:"email"`
	AccessToken   string     `db:"access_token"`
	RefreshToken  string     `db:"refresh_token"`
	TokenExpires  *time.Time `db:"token_expires"`
	DeltaLink     *string    `db:"delta_link"` // NULL until the first sync
	SyncStatus    SyncStatus `db:"sync_status"`
	SyncUpdatedAt *time.Time `db:"sync_updated_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

// Document is the relational record for one remote file. Extracted text is
// not stored here; it lives only in the search index.
type Document struct {
	ID          int64      `db:"id"`
	OwnerID     int64      `db:"owner_id"`
	FileID      string     `db:"file_id"` // Remote item id, unique per owner
	Filename    string     `db:"filename"`
	Source      string     `db:"source"`
	ContentHash string     `db:"content_hash"` // sha256 of the raw bytes
	Indexed     bool       `db:"indexed"`
	CreatedAt   *time.Time `db:"created_at"`
	ModifiedAt  *time.Time `db:"modified_at"`
	Size        int64      `db:"size"`
	WebURL      string     `db:"web_url"`
}

// DocumentChange describes a create-or-update of one document record,
// computed off the orchestrating goroutine and applied serially.
type DocumentChange struct {
	FileID      string
	Filename    string
	Source      string
	ContentHash string
	CreatedAt   *time.Time
	ModifiedAt  *time.Time
	Size        int64
	WebURL      string
	IsNew       bool
}

// Stats summarises an owner's stored documents
type Stats struct {
	Documents  int
	Indexed    int
	TotalBytes int64
}
