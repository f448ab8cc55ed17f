package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/highlight"
	htmlformat "github.com/blevesearch/bleve/v2/search/highlight/format/html"
	simplefragmenter "github.com/blevesearch/bleve/v2/search/highlight/fragmenter/simple"
	simplehighlighter "github.com/blevesearch/bleve/v2/search/highlight/highlighter/simple"
	"github.com/renderinc/drive-search/internal/textproc"
)

const (
	// DefaultScanLimit bounds the full scan behind ExistingIDsAndHashes
	DefaultScanLimit = 10000

	snippetHighlighter = "drive_snippet"
	snippetSize        = 150
	contentBoost       = 3.0
)

func init() {
	registry.RegisterHighlighter(snippetHighlighter, func(config map[string]interface{}, cache *registry.Cache) (highlight.Highlighter, error) {
		return simplehighlighter.NewHighlighter(
			simplefragmenter.NewFragmenter(snippetSize),
			htmlformat.NewFragmentFormatter("<mark>", "</mark>"),
			"…",
		), nil
	})
}

// Document is an index-ready payload for one remote file. Content is the raw
// extracted text; it is preprocessed for lexical search on write.
type Document struct {
	ID          string
	Filename    string
	Content     string
	ContentHash string
	Source      string
	WebURL      string
	CreatedAt   *time.Time
	ModifiedAt  *time.Time
	Size        int64
}

// Candidate is a scored document flowing through the search cascade. Score is
// overwritten by each stage.
type Candidate struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Content  string  `json:"-"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// BulkResult reports the outcome of an UpsertBulk call per document
type BulkResult struct {
	Succeeded []string
	Failed    map[string]error
}

// indexEntry is the stored shape of a Document. Field names match the mapping.
type indexEntry struct {
	OwnerID      string     `json:"owner_id"`
	Filename     string     `json:"filename"`
	FilenameText string     `json:"filename_text"`
	Content      string     `json:"content"`
	Text         string     `json:"text"`
	ContentHash  string     `json:"content_hash"`
	Source       string     `json:"source"`
	WebURL       string     `json:"web_url"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	ModifiedAt   *time.Time `json:"modified_at,omitempty"`
	Size         int64      `json:"size"`
}

// Index wraps one owner's Bleve index
type Index struct {
	ownerID   int64
	index     bleve.Index
	scanLimit int
	logger    *slog.Logger
}

// IndexName returns the namespace of an owner's index
func IndexName(ownerID int64) string {
	return fmt.Sprintf("index_user_%d", ownerID)
}

// Open opens or creates the index for an owner under dir. An empty dir
// creates an in-memory index.
func Open(dir string, ownerID int64, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var idx bleve.Index
	var err error

	if dir == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrIndexUnavailable, dir, err)
		}
		path := filepath.Join(dir, IndexName(ownerID))
		// Try to open existing index
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, buildIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIndexUnavailable, IndexName(ownerID), err)
	}

	return &Index{
		ownerID:   ownerID,
		index:     idx,
		scanLimit: DefaultScanLimit,
		logger:    logger.With("index", IndexName(ownerID)),
	}, nil
}

// buildIndexMapping creates the document mapping: exact and analyzed
// filename, stemmed content with term vectors for snippets, stored raw text.
func buildIndexMapping() mapping.IndexMapping {
	keyword := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = "keyword"
		f.Store = true
		f.IncludeInAll = false
		return f
	}

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("owner_id", keyword())
	docMapping.AddFieldMappingsAt("filename", keyword())
	docMapping.AddFieldMappingsAt("content_hash", keyword())
	docMapping.AddFieldMappingsAt("source", keyword())

	filenameText := bleve.NewTextFieldMapping()
	filenameText.Analyzer = "en"
	docMapping.AddFieldMappingsAt("filename_text", filenameText)

	// Content arrives already stemmed, so the standard analyzer only splits it
	content := bleve.NewTextFieldMapping()
	content.Analyzer = "standard"
	content.Store = true
	content.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("content", content)

	text := bleve.NewTextFieldMapping()
	text.Index = false
	text.Store = true
	text.IncludeInAll = false
	docMapping.AddFieldMappingsAt("text", text)

	webURL := bleve.NewTextFieldMapping()
	webURL.Index = false
	webURL.Store = true
	webURL.IncludeInAll = false
	docMapping.AddFieldMappingsAt("web_url", webURL)

	created := bleve.NewDateTimeFieldMapping()
	created.Store = true
	docMapping.AddFieldMappingsAt("created_at", created)

	modified := bleve.NewDateTimeFieldMapping()
	modified.Store = true
	docMapping.AddFieldMappingsAt("modified_at", modified)

	size := bleve.NewNumericFieldMapping()
	size.Store = true
	docMapping.AddFieldMappingsAt("size", size)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = "standard"

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// UpsertBulk writes documents keyed by their remote file ID in one batch.
// Individual failures are logged and reported, never returned as an error.
func (i *Index) UpsertBulk(ctx context.Context, docs []Document) BulkResult {
	result := BulkResult{Failed: make(map[string]error)}
	if len(docs) == 0 {
		return result
	}

	owner := strconv.FormatInt(i.ownerID, 10)
	batch := i.index.NewBatch()
	queued := make([]string, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			result.Failed[doc.ID] = err
			continue
		}
		entry := &indexEntry{
			OwnerID:      owner,
			Filename:     doc.Filename,
			FilenameText: doc.Filename,
			Content:      textproc.PreprocessBM25(doc.Content),
			Text:         doc.Content,
			ContentHash:  doc.ContentHash,
			Source:       doc.Source,
			WebURL:       doc.WebURL,
			CreatedAt:    doc.CreatedAt,
			ModifiedAt:   doc.ModifiedAt,
			Size:         doc.Size,
		}
		if err := batch.Index(doc.ID, entry); err != nil {
			i.logger.Warn("index document failed", "doc", doc.ID, "err", err)
			result.Failed[doc.ID] = err
			continue
		}
		queued = append(queued, doc.ID)
	}

	if len(queued) == 0 {
		return result
	}

	if err := i.index.Batch(batch); err != nil {
		i.logger.Error("commit batch failed", "docs", len(queued), "err", err)
		for _, id := range queued {
			result.Failed[id] = err
		}
		return result
	}

	result.Succeeded = queued
	i.logger.Debug("bulk upsert", "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result
}

// Delete removes a document from the index
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// Search preprocesses queryStr for lexical matching and runs SearchTerms
func (i *Index) Search(ctx context.Context, queryStr string, topK int) ([]Candidate, error) {
	return i.SearchTerms(ctx, textproc.PreprocessBM25(queryStr), topK)
}

// SearchTerms matches an already preprocessed query against content
// (boosted) and filename, scoped to the owner, and returns up to topK hits by
// descending score with a highlighted snippet each.
func (i *Index) SearchTerms(ctx context.Context, processed string, topK int) ([]Candidate, error) {
	if strings.TrimSpace(processed) == "" || topK <= 0 {
		return []Candidate{}, nil
	}

	contentQuery := bleve.NewMatchQuery(processed)
	contentQuery.SetField("content")
	contentQuery.SetBoost(contentBoost)

	filenameQuery := bleve.NewMatchQuery(processed)
	filenameQuery.SetField("filename_text")

	ownerQuery := bleve.NewTermQuery(strconv.FormatInt(i.ownerID, 10))
	ownerQuery.SetField("owner_id")

	query := bleve.NewConjunctionQuery(
		bleve.NewDisjunctionQuery(contentQuery, filenameQuery),
		ownerQuery,
	)

	req := bleve.NewSearchRequestOptions(query, topK, 0, false)
	req.Fields = []string{"filename", "text"}
	req.Highlight = bleve.NewHighlightWithStyle(snippetHighlighter)
	req.Highlight.AddField("content")

	results, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrIndexUnavailable, err)
	}

	candidates := make([]Candidate, 0, len(results.Hits))
	for _, hit := range results.Hits {
		c := Candidate{ID: hit.ID, Score: hit.Score}
		if filename, ok := hit.Fields["filename"].(string); ok {
			c.Filename = filename
		}
		if text, ok := hit.Fields["text"].(string); ok {
			c.Content = text
		}
		if fragments := hit.Fragments["content"]; len(fragments) > 0 {
			c.Snippet = strings.TrimSpace(fragments[0])
		}
		candidates = append(candidates, c)
	}

	return candidates, nil
}

// ExistingIDsAndHashes scans up to the scan limit and returns every document
// ID and content hash. A failed read yields empty sets.
func (i *Index) ExistingIDsAndHashes(ctx context.Context) (map[string]struct{}, map[string]struct{}) {
	ids := make(map[string]struct{})
	hashes := make(map[string]struct{})

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), i.scanLimit, 0, false)
	req.Fields = []string{"content_hash"}

	results, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		i.logger.Warn("scan existing documents failed", "err", err)
		return ids, hashes
	}

	for _, hit := range results.Hits {
		ids[hit.ID] = struct{}{}
		if h, ok := hit.Fields["content_hash"].(string); ok && h != "" {
			hashes[h] = struct{}{}
		}
	}
	return ids, hashes
}

// Count returns the number of documents in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Indexes lazily opens and caches one Index per owner for the process lifetime
type Indexes struct {
	dir       string
	scanLimit int
	logger    *slog.Logger

	mu   sync.Mutex
	open map[int64]*Index
}

// NewIndexes creates a registry rooted at dir; an empty dir keeps every
// index in memory.
func NewIndexes(dir string, scanLimit int, logger *slog.Logger) *Indexes {
	if logger == nil {
		logger = slog.Default()
	}
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Indexes{
		dir:       dir,
		scanLimit: scanLimit,
		logger:    logger.With("component", "search"),
		open:      make(map[int64]*Index),
	}
}

// For returns the owner's index, creating it on first use
func (x *Indexes) For(ownerID int64) (*Index, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if idx, ok := x.open[ownerID]; ok {
		return idx, nil
	}

	idx, err := Open(x.dir, ownerID, x.logger)
	if err != nil {
		return nil, err
	}
	idx.scanLimit = x.scanLimit
	x.open[ownerID] = idx
	return idx, nil
}

// UpsertBulk writes documents into the owner's index
func (x *Indexes) UpsertBulk(ctx context.Context, ownerID int64, docs []Document) (BulkResult, error) {
	idx, err := x.For(ownerID)
	if err != nil {
		return BulkResult{}, err
	}
	return idx.UpsertBulk(ctx, docs), nil
}

// Search runs a lexical search in the owner's index
func (x *Indexes) Search(ctx context.Context, ownerID int64, query string, topK int) ([]Candidate, error) {
	idx, err := x.For(ownerID)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, query, topK)
}

// SearchTerms runs a lexical search with a preprocessed query
func (x *Indexes) SearchTerms(ctx context.Context, ownerID int64, processed string, topK int) ([]Candidate, error) {
	idx, err := x.For(ownerID)
	if err != nil {
		return nil, err
	}
	return idx.SearchTerms(ctx, processed, topK)
}

// ExistingIDsAndHashes returns the owner's indexed IDs and content hashes,
// or empty sets if the index cannot be read.
func (x *Indexes) ExistingIDsAndHashes(ctx context.Context, ownerID int64) (map[string]struct{}, map[string]struct{}) {
	idx, err := x.For(ownerID)
	if err != nil {
		x.logger.Warn("open index for scan failed", "owner", ownerID, "err", err)
		return map[string]struct{}{}, map[string]struct{}{}
	}
	return idx.ExistingIDsAndHashes(ctx)
}

// Delete removes one document from the owner's index
func (x *Indexes) Delete(ownerID int64, id string) error {
	idx, err := x.For(ownerID)
	if err != nil {
		return err
	}
	return idx.Delete(id)
}

// Count returns the number of documents in the owner's index
func (x *Indexes) Count(ownerID int64) (uint64, error) {
	idx, err := x.For(ownerID)
	if err != nil {
		return 0, err
	}
	return idx.Count()
}

// Close closes every open index
func (x *Indexes) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var errs []error
	for id, idx := range x.open {
		if err := idx.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(x.open, id)
	}
	return errors.Join(errs...)
}
