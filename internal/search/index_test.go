package search

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("", 7, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func sampleDocs() []Document {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return []Document{
		{ID: "a", Filename: "budget.txt", Content: "Quarterly budget review for the marketing team.", ContentHash: "h-a", Source: "onedrive", CreatedAt: &created, Size: 48},
		{ID: "b", Filename: "travel.docx", Content: "Travel reimbursement policy and approval steps.", ContentHash: "h-b", Source: "onedrive", Size: 47},
		{ID: "c", Filename: "notes.txt", Content: "Connecting the reporting database to the dashboards.", ContentHash: "h-c", Source: "onedrive", Size: 52},
	}
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "index_user_42", IndexName(42))
}

func TestUpsertBulkAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	result := idx.UpsertBulk(ctx, sampleDocs())
	assert.Len(t, result.Succeeded, 3)
	assert.Empty(t, result.Failed)

	hits, err := idx.Search(ctx, "connected databases", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c", hits[0].ID)
	assert.Equal(t, "notes.txt", hits[0].Filename)
	assert.Equal(t, "Connecting the reporting database to the dashboards.", hits[0].Content)
	assert.Contains(t, hits[0].Snippet, "<mark>")
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestUpsertBulkIsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.UpsertBulk(ctx, sampleDocs())
	first, err := idx.Search(ctx, "budget", 10)
	require.NoError(t, err)

	idx.UpsertBulk(ctx, sampleDocs())
	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	second, err := idx.Search(ctx, "budget", 10)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].Content, second[0].Content)
}

func TestSearchOrdersAndLimits(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	var docs []Document
	for i := 0; i < 20; i++ {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("doc-%02d", i),
			Filename: fmt.Sprintf("file-%02d.txt", i),
			Content:  strings.Repeat("invoice ", i+1) + "payment terms",
		})
	}
	idx.UpsertBulk(ctx, docs)

	hits, err := idx.Search(ctx, "invoices", 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchBlankQuery(t *testing.T) {
	idx := newTestIndex(t)
	idx.UpsertBulk(context.Background(), sampleDocs())

	hits, err := idx.Search(context.Background(), "the and of", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestExistingIDsAndHashes(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.UpsertBulk(ctx, sampleDocs())

	ids, hashes := idx.ExistingIDsAndHashes(ctx)
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, "b")
	assert.Contains(t, hashes, "h-c")
}

func TestExistingIDsAndHashesDegradesOnFailure(t *testing.T) {
	idx, err := Open("", 1, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	ids, hashes := idx.ExistingIDsAndHashes(context.Background())
	assert.Empty(t, ids)
	assert.Empty(t, hashes)
}

func TestDelete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.UpsertBulk(ctx, sampleDocs())

	require.NoError(t, idx.Delete("a"))
	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	hits, err := idx.Search(ctx, "budget", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexesAreScopedPerOwner(t *testing.T) {
	indexes := NewIndexes("", 0, nil)
	t.Cleanup(func() { indexes.Close() })
	ctx := context.Background()

	_, err := indexes.UpsertBulk(ctx, 1, sampleDocs()[:1])
	require.NoError(t, err)
	_, err = indexes.UpsertBulk(ctx, 2, sampleDocs()[1:])
	require.NoError(t, err)

	hits, err := indexes.Search(ctx, 1, "budget", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = indexes.Search(ctx, 2, "budget", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	a, err := indexes.For(1)
	require.NoError(t, err)
	b, err := indexes.For(1)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestIndexesPersistOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	indexes := NewIndexes(dir, 0, nil)
	_, err := indexes.UpsertBulk(ctx, 3, sampleDocs())
	require.NoError(t, err)
	require.NoError(t, indexes.Close())

	reopened := NewIndexes(dir, 0, nil)
	t.Cleanup(func() { reopened.Close() })
	count, err := reopened.Count(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}
