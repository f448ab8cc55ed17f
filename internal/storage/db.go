package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps SQLite database operations
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	storage := &DB{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates tables if they don't exist
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS owners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ms_id TEXT NOT NULL UNIQUE,
		name TEXT,
		email TEXT NOT NULL UNIQUE,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires TIMESTAMP,
		delta_link TEXT,
		sync_status TEXT NOT NULL DEFAULT 'idle',
		sync_updated_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		file_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		source TEXT,
		content_hash TEXT,
		indexed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		modified_at TIMESTAMP,
		size INTEGER NOT NULL DEFAULT 0,
		web_url TEXT,
		UNIQUE(owner_id, file_id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(owner_id, content_hash);
	`

	_, err := d.db.Exec(schema)
	return err
}

const ownerColumns = `id, ms_id, name, email, access_token, refresh_token, token_expires,
	delta_link, sync_status, sync_updated_at, created_at`

// CreateOwner inserts a new owner and returns it with its assigned ID
func (d *DB) CreateOwner(ctx context.Context, owner *Owner) (*Owner, error) {
	now := time.Now().UTC()
	res, err := d.db.ExecContext(ctx, `
	INSERT INTO owners (ms_id, name, email, access_token, refresh_token, token_expires, sync_status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		owner.MSID, owner.Name, owner.Email, owner.AccessToken, owner.RefreshToken,
		utcPtr(owner.TokenExpires), SyncIdle, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("owner id: %w", err)
	}
	return d.GetOwner(ctx, id)
}

// GetOwner retrieves an owner by ID
func (d *DB) GetOwner(ctx context.Context, id int64) (*Owner, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+ownerColumns+" FROM owners WHERE id = ?", id)
	owner, err := scanOwner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("owner %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return owner, nil
}

// ListOwners returns every owner ordered by ID
func (d *DB) ListOwners(ctx context.Context) ([]*Owner, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+ownerColumns+" FROM owners ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []*Owner
	for rows.Next() {
		owner, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOwner(row rowScanner) (*Owner, error) {
	var (
		owner                     Owner
		name                      sql.NullString
		deltaLink                 sql.NullString
		tokenExpires, syncUpdated sql.NullTime
		status                    string
	)
	err := row.Scan(&owner.ID, &owner.MSID, &name, &owner.Email, &owner.AccessToken, &owner.RefreshToken,
		&tokenExpires, &deltaLink, &status, &syncUpdated, &owner.CreatedAt)
	if err != nil {
		return nil, err
	}
	owner.Name = name.String
	owner.SyncStatus = SyncStatus(status)
	owner.TokenExpires = timePtr(tokenExpires)
	owner.SyncUpdatedAt = timePtr(syncUpdated)
	if deltaLink.Valid {
		owner.DeltaLink = &deltaLink.String
	}
	return &owner, nil
}

// SaveToken persists a refreshed access credential
func (d *DB) SaveToken(ctx context.Context, ownerID int64, accessToken, refreshToken string, expires time.Time) error {
	return d.execOne(ctx, `
	UPDATE owners SET access_token = ?, refresh_token = ?, token_expires = ? WHERE id = ?`,
		accessToken, refreshToken, expires.UTC(), ownerID)
}

// SetCursor stores the owner's delta link. It commits immediately.
func (d *DB) SetCursor(ctx context.Context, ownerID int64, cursor string) error {
	return d.execOne(ctx, "UPDATE owners SET delta_link = ? WHERE id = ?", cursor, ownerID)
}

// SetSyncStatus records the sync state machine position and its timestamp
func (d *DB) SetSyncStatus(ctx context.Context, ownerID int64, status SyncStatus, at time.Time) error {
	return d.execOne(ctx, "UPDATE owners SET sync_status = ?, sync_updated_at = ? WHERE id = ?",
		status, at.UTC(), ownerID)
}

// GetSyncStatus returns the owner's sync status and when it last changed
func (d *DB) GetSyncStatus(ctx context.Context, ownerID int64) (SyncStatus, *time.Time, error) {
	var (
		status  string
		updated sql.NullTime
	)
	err := d.db.QueryRowContext(ctx, "SELECT sync_status, sync_updated_at FROM owners WHERE id = ?", ownerID).
		Scan(&status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("owner %d: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return "", nil, err
	}
	return SyncStatus(status), timePtr(updated), nil
}

func (d *DB) execOne(ctx context.Context, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const documentColumns = `id, owner_id, file_id, filename, source, content_hash, indexed,
	created_at, modified_at, size, web_url`

// DocumentsByOwner returns the owner's records keyed by remote file ID
func (d *DB) DocumentsByOwner(ctx context.Context, ownerID int64) (map[string]*Document, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE owner_id = ?", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make(map[string]*Document)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs[doc.FileID] = doc
	}
	return docs, rows.Err()
}

// GetDocument retrieves one record by remote file ID
func (d *DB) GetDocument(ctx context.Context, ownerID int64, fileID string) (*Document, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE owner_id = ? AND file_id = ?",
		ownerID, fileID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", fileID, ErrNotFound)
	}
	return doc, err
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc                   Document
		source, hash, webURL  sql.NullString
		createdAt, modifiedAt sql.NullTime
	)
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.FileID, &doc.Filename, &source, &hash, &doc.Indexed,
		&createdAt, &modifiedAt, &doc.Size, &webURL)
	if err != nil {
		return nil, err
	}
	doc.Source = source.String
	doc.ContentHash = hash.String
	doc.WebURL = webURL.String
	doc.CreatedAt = timePtr(createdAt)
	doc.ModifiedAt = timePtr(modifiedAt)
	return &doc, nil
}

// ContentHashes returns every content hash recorded for the owner
func (d *DB) ContentHashes(ctx context.Context, ownerID int64) (map[string]struct{}, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT DISTINCT content_hash FROM documents WHERE owner_id = ? AND content_hash IS NOT NULL", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = struct{}{}
	}
	return hashes, rows.Err()
}

// ApplyDocuments creates or updates one record per change inside a single
// transaction. Updated records are marked unindexed until MarkIndexed runs.
func (d *DB) ApplyDocuments(ctx context.Context, ownerID int64, changes []DocumentChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO documents (
		owner_id, file_id, filename, source, content_hash, indexed,
		created_at, modified_at, size, web_url
	) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	ON CONFLICT(owner_id, file_id) DO UPDATE SET
		filename = excluded.filename,
		content_hash = excluded.content_hash,
		modified_at = excluded.modified_at,
		size = excluded.size,
		web_url = excluded.web_url,
		indexed = 0
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		_, err := stmt.ExecContext(ctx, ownerID, c.FileID, c.Filename, c.Source, c.ContentHash,
			utcPtr(c.CreatedAt), utcPtr(c.ModifiedAt), c.Size, c.WebURL)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", c.FileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// markIndexedChunk keeps each UPDATE under SQLite's bound-variable limit
const markIndexedChunk = 500

// MarkIndexed flags the given records as present in the search index
func (d *DB) MarkIndexed(ctx context.Context, ownerID int64, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(fileIDs); start += markIndexedChunk {
		chunk := fileIDs[start:min(start+markIndexedChunk, len(fileIDs))]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk)+1)
		args = append(args, ownerID)
		for _, id := range chunk {
			args = append(args, id)
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE documents SET indexed = 1 WHERE owner_id = ? AND file_id IN ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("mark indexed %d-%d: %w", start, start+len(chunk), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteDocument removes a record after an explicit remote deletion.
// Deleting a record that does not exist is not an error.
func (d *DB) DeleteDocument(ctx context.Context, ownerID int64, fileID string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM documents WHERE owner_id = ? AND file_id = ?", ownerID, fileID)
	return err
}

// Stats returns document counts and total size for the owner
func (d *DB) Stats(ctx context.Context, ownerID int64) (*Stats, error) {
	var s Stats
	err := d.db.QueryRowContext(ctx, `
	SELECT COUNT(*), COALESCE(SUM(indexed), 0), COALESCE(SUM(size), 0)
	FROM documents WHERE owner_id = ?`, ownerID).Scan(&s.Documents, &s.Indexed, &s.TotalBytes)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
