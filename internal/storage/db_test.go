package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestOwner(t *testing.T, db *DB) *Owner {
	t.Helper()
	owner, err := db.CreateOwner(context.Background(), &Owner{
		MSID:         "ms-1",
		Name:         "Ada",
		Email:        "ada@example.com",
		RefreshToken: "refresh",
	})
	require.NoError(t, err)
	return owner
}

func TestCreateAndGetOwner(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	owner := createTestOwner(t, db)
	assert.NotZero(t, owner.ID)
	assert.Equal(t, SyncIdle, owner.SyncStatus)
	assert.Nil(t, owner.DeltaLink)
	assert.Nil(t, owner.TokenExpires)

	got, err := db.GetOwner(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "refresh", got.RefreshToken)

	_, err = db.GetOwner(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	owners, err := db.ListOwners(ctx)
	require.NoError(t, err)
	assert.Len(t, owners, 1)
}

func TestSaveTokenAndCursor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	owner := createTestOwner(t, db)

	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.SaveToken(ctx, owner.ID, "access", "refresh-2", expires))
	require.NoError(t, db.SetCursor(ctx, owner.ID, "https://graph/delta?token=abc"))

	got, err := db.GetOwner(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	require.NotNil(t, got.TokenExpires)
	assert.True(t, expires.Equal(*got.TokenExpires))
	require.NotNil(t, got.DeltaLink)
	assert.Equal(t, "https://graph/delta?token=abc", *got.DeltaLink)

	assert.ErrorIs(t, db.SetCursor(ctx, 42, "x"), ErrNotFound)
}

func TestSyncStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	owner := createTestOwner(t, db)

	status, updated, err := db.GetSyncStatus(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncIdle, status)
	assert.Nil(t, updated)

	at := time.Now()
	require.NoError(t, db.SetSyncStatus(ctx, owner.ID, SyncRunning, at))

	status, updated, err = db.GetSyncStatus(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncRunning, status)
	require.NotNil(t, updated)
	assert.WithinDuration(t, at, *updated, time.Millisecond)
}

func TestApplyDocuments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	owner := createTestOwner(t, db)

	created := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	err := db.ApplyDocuments(ctx, owner.ID, []DocumentChange{
		{FileID: "f1", Filename: "a.txt", Source: "onedrive", ContentHash: "h1", CreatedAt: &created, Size: 10, IsNew: true},
		{FileID: "f2", Filename: "b.docx", Source: "onedrive", ContentHash: "h2", Size: 20, IsNew: true},
	})
	require.NoError(t, err)

	docs, err := db.DocumentsByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs["f1"].Filename)
	assert.False(t, docs["f1"].Indexed)
	require.NotNil(t, docs["f1"].CreatedAt)
	assert.True(t, created.Equal(*docs["f1"].CreatedAt))

	require.NoError(t, db.MarkIndexed(ctx, owner.ID, []string{"f1", "f2"}))

	modified := created.Add(time.Hour)
	err = db.ApplyDocuments(ctx, owner.ID, []DocumentChange{
		{FileID: "f1", Filename: "a-renamed.txt", Source: "onedrive", ContentHash: "h3", ModifiedAt: &modified, Size: 11},
	})
	require.NoError(t, err)

	doc, err := db.GetDocument(ctx, owner.ID, "f1")
	require.NoError(t, err)
	assert.Equal(t, "a-renamed.txt", doc.Filename)
	assert.Equal(t, "h3", doc.ContentHash)
	assert.False(t, doc.Indexed)
	require.NotNil(t, doc.CreatedAt)
	assert.True(t, created.Equal(*doc.CreatedAt))

	hashes, err := db.ContentHashes(ctx, owner.ID)
	require.NoError(t, err)
	assert.Contains(t, hashes, "h2")
	assert.Contains(t, hashes, "h3")
	assert.NotContains(t, hashes, "h1")

	stats, err := db.Stats(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, int64(31), stats.TotalBytes)
}

func TestDeleteDocument(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	owner := createTestOwner(t, db)

	require.NoError(t, db.ApplyDocuments(ctx, owner.ID, []DocumentChange{
		{FileID: "f1", Filename: "a.txt", ContentHash: "h1"},
	}))
	require.NoError(t, db.DeleteDocument(ctx, owner.ID, "f1"))
	require.NoError(t, db.DeleteDocument(ctx, owner.ID, "missing"))

	_, err := db.GetDocument(ctx, owner.ID, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyDocumentsEmpty(t *testing.T) {
	db := openTestDB(t)
	owner := createTestOwner(t, db)
	assert.NoError(t, db.ApplyDocuments(context.Background(), owner.ID, nil))
	assert.NoError(t, db.MarkIndexed(context.Background(), owner.ID, nil))
}

func TestMarkIndexedLargeBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	owner := createTestOwner(t, db)

	changes := make([]DocumentChange, 1200)
	for i := range changes {
		changes[i] = DocumentChange{
			FileID:      fmt.Sprintf("f%d", i),
			Filename:    fmt.Sprintf("doc-%d.txt", i),
			ContentHash: fmt.Sprintf("h%d", i),
			Size:        1,
		}
	}
	require.NoError(t, db.ApplyDocuments(ctx, owner.ID, changes))

	// more ids than SQLite accepts as bound variables in one statement
	ids := make([]string, 40000)
	for i := range ids {
		ids[i] = fmt.Sprintf("f%d", i)
	}
	require.NoError(t, db.MarkIndexed(ctx, owner.ID, ids))

	stats, err := db.Stats(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1200, stats.Documents)
	assert.Equal(t, 1200, stats.Indexed)
}
