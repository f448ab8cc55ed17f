package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/renderinc/drive-search/internal/extract"
	"github.com/renderinc/drive-search/internal/onedrive"
	"github.com/renderinc/drive-search/internal/search"
	"github.com/renderinc/drive-search/internal/storage"
)

type outcome int

// The zero value is outcomeFailed so a result a worker never wrote counts
// as a failure.
const (
	outcomeFailed outcome = iota
	outcomeProduced
	outcomeSkipped
	outcomeUnsupported
)

type itemResult struct {
	item    onedrive.Item
	outcome outcome
	change  storage.DocumentChange
	payload search.Document
	err     error
}

// itemJob holds the read-only state shared by workers in one run. Workers
// never write to the store or the index.
type itemJob struct {
	remote   Remote
	firstRun bool
	existing map[string]*storage.Document
	known    map[string]struct{}
	source   string
}

func (j itemJob) process(ctx context.Context, item onedrive.Item) itemResult {
	res := itemResult{item: item}

	if !extract.Supported(item.Name) {
		res.outcome = outcomeUnsupported
		return res
	}

	prev := j.existing[item.ID]
	if !j.firstRun && prev != nil && sameTime(prev.ModifiedAt, item.LastModifiedDateTime) {
		res.outcome = outcomeSkipped
		return res
	}

	raw, err := j.remote.FetchContent(ctx, item.ID)
	if err != nil {
		res.outcome = outcomeFailed
		res.err = fmt.Errorf("fetch content: %w", err)
		return res
	}

	hash := contentHash(raw)
	if !j.firstRun {
		if _, seen := j.known[hash]; seen {
			res.outcome = outcomeSkipped
			return res
		}
	}

	payload, change, err := build(item, raw, hash, j.source)
	if err != nil {
		res.outcome = outcomeFailed
		res.err = err
		return res
	}
	if payload == nil {
		res.outcome = outcomeSkipped
		return res
	}

	change.IsNew = prev == nil
	res.outcome = outcomeProduced
	res.change = *change
	res.payload = *payload
	return res
}

// fetchAndExtract downloads an item and builds its payload and record change.
// A nil payload with a nil error means the item has no text.
func fetchAndExtract(ctx context.Context, remote Remote, item onedrive.Item, source string) (*search.Document, *storage.DocumentChange, error) {
	raw, err := remote.FetchContent(ctx, item.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch content: %w", err)
	}
	return build(item, raw, contentHash(raw), source)
}

func build(item onedrive.Item, raw []byte, hash, source string) (*search.Document, *storage.DocumentChange, error) {
	text, err := extract.Extract(item.Name, raw)
	if err != nil {
		return nil, nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, nil
	}

	size := item.Size
	if size == 0 {
		size = int64(len(raw))
	}

	payload := &search.Document{
		ID:          item.ID,
		Filename:    item.Name,
		Content:     text,
		ContentHash: hash,
		Source:      source,
		WebURL:      item.WebURL,
		CreatedAt:   item.CreatedDateTime,
		ModifiedAt:  item.LastModifiedDateTime,
		Size:        size,
	}
	change := &storage.DocumentChange{
		FileID:      item.ID,
		Filename:    item.Name,
		Source:      source,
		ContentHash: hash,
		CreatedAt:   item.CreatedDateTime,
		ModifiedAt:  item.LastModifiedDateTime,
		Size:        size,
		WebURL:      item.WebURL,
	}
	return payload, change, nil
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}
