// Package chromem provides a persistent, embedded vector index built on chromem-go.
//
// It is the default backend: the whole index lives under one directory inside the
// workspace and needs no external service.
package chromem

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/oceanbase/localmem-go/pkg/storage"
)

// Client implements storage.VectorIndex on a chromem-go collection.
type Client struct {
	db  *chromem.DB
	col *chromem.Collection

	// mu serializes read-modify-write cycles on documents.
	mu sync.Mutex
}

// Config contains configuration for the chromem backend.
type Config struct {
	// Path is the directory holding the persisted collection.
	// An empty path keeps the index in memory.
	Path string

	// CollectionName is the name of the collection (default: "memories").
	CollectionName string

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// NewClient opens (or creates) the persisted chromem database at cfg.Path.
func NewClient(cfg *Config) (*Client, error) {
	name := cfg.CollectionName
	if name == "" {
		name = "memories"
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("NewChromemClient: failed to create directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("NewChromemClient: %w", err)
		}
	}

	// Embeddings are always supplied by the caller, so no embedding func is set.
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("NewChromemClient: create collection: %w", err)
	}

	return &Client{db: db, col: col}, nil
}

// Add inserts or replaces a document.
func (c *Client) Add(ctx context.Context, doc *storage.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.col.AddDocument(ctx, toChromem(doc)); err != nil {
		return fmt.Errorf("Add: %w", err)
	}
	return nil
}

// Get returns the documents for ids, skipping unknown ones.
func (c *Client) Get(ctx context.Context, ids []string) ([]*storage.Document, error) {
	docs := make([]*storage.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := c.col.GetByID(ctx, id)
		if err != nil {
			// chromem reports a missing ID as an error.
			continue
		}
		docs = append(docs, fromChromem(doc))
	}
	return docs, nil
}

// Update replaces the metadata of an existing document.
//
// chromem has no partial update, so the document is re-added with its stored embedding.
func (c *Client) Update(ctx context.Context, id string, metadata map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("Update: %s: %w", id, storage.ErrNotFound)
	}

	doc.Metadata = copyMetadata(metadata)
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

// Delete removes documents by ID.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := c.col.GetByID(ctx, id); err == nil {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil
	}

	if err := c.col.Delete(ctx, nil, nil, known...); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Query returns the nearest documents to embedding.
func (c *Client) Query(ctx context.Context, embedding []float64, opts *storage.QueryOptions) ([]*storage.Match, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}

	count := c.col.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection.
	limit := opts.Limit
	if limit <= 0 || limit > count {
		limit = count
	}

	var where map[string]string
	if len(opts.Filters) > 0 {
		where = opts.Filters
	}

	results, err := c.col.QueryEmbedding(ctx, toFloat32(embedding), limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	matches := make([]*storage.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, &storage.Match{
			Document: storage.Document{
				ID:        r.ID,
				Text:      r.Content,
				Embedding: toFloat64(r.Embedding),
				Metadata:  copyMetadata(r.Metadata),
			},
			Distance: 1 - float64(r.Similarity),
		})
	}
	return matches, nil
}

// Count returns the number of documents in the collection.
func (c *Client) Count(ctx context.Context) (int, error) {
	return c.col.Count(), nil
}

// Close is a no-op: chromem persists every write immediately.
func (c *Client) Close() error {
	return nil
}

func toChromem(doc *storage.Document) chromem.Document {
	return chromem.Document{
		ID:        doc.ID,
		Content:   doc.Text,
		Embedding: toFloat32(doc.Embedding),
		Metadata:  copyMetadata(doc.Metadata),
	}
}

func fromChromem(doc chromem.Document) *storage.Document {
	return &storage.Document{
		ID:        doc.ID,
		Text:      doc.Content,
		Embedding: toFloat64(doc.Embedding),
		Metadata:  copyMetadata(doc.Metadata),
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
