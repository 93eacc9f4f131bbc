// Package sqlite provides a SQLite implementation of the vector index.
//
// Vectors are stored as JSON strings in TEXT fields, and similarity search uses
// in-memory cosine similarity over every row. This suits workspaces of a few thousand
// memories, which is the expected size of a single agent's store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/localmem-go/pkg/storage"
)

// Client implements storage.VectorIndex using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing documents.
	collectionName string
}

// Config contains configuration for creating a SQLite vector index.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string
}

// NewClient creates a new SQLite vector index client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o700); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	name := cfg.CollectionName
	if name == "" {
		name = "memories"
	}

	client := &Client{
		db:             db,
		collectionName: name,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT,
			category TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_category ON %s(category)
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Add inserts or replaces a document.
func (c *Client) Add(ctx context.Context, doc *storage.Document) error {
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (id, content, embedding, metadata, category, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	embeddingJSON, err := json.Marshal(doc.Embedding)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		doc.ID,
		doc.Text,
		string(embeddingJSON),
		string(metadataJSON),
		doc.Metadata["category"],
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}

	return nil
}

// Get returns the documents for ids in the order given, skipping unknown IDs.
func (c *Client) Get(ctx context.Context, ids []string) ([]*storage.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`
		SELECT id, content, embedding, metadata
		FROM %s
		WHERE id IN (%s)
	`, c.collectionName, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*storage.Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("Get: %w", err)
		}
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	docs := make([]*storage.Document, 0, len(byID))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Update replaces the metadata of an existing document.
func (c *Client) Update(ctx context.Context, id string, metadata map[string]string) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET metadata = ?, category = ?, updated_at = ?
		WHERE id = ?
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query, string(metadataJSON), metadata["category"], time.Now(), id)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("Update: %s: %w", id, storage.ErrNotFound)
	}

	return nil
}

// Delete removes documents by ID.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", c.collectionName, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Query performs vector similarity search using cosine similarity.
//
// SQLite has no native vector operations, so similarity is calculated in memory
// after loading every row that passes the category filter.
func (c *Client) Query(ctx context.Context, embedding []float64, opts *storage.QueryOptions) ([]*storage.Match, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}

	whereClause, args := buildWhereClause(opts.Filters)

	query := fmt.Sprintf(`
		SELECT id, content, embedding, metadata
		FROM %s
		%s
		ORDER BY rowid
	`, c.collectionName, whereClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*storage.Match
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}
		if !storage.MatchesFilters(doc.Metadata, opts.Filters) {
			continue
		}
		matches = append(matches, &storage.Match{
			Document: *doc,
			Distance: 1 - storage.CosineSimilarity(embedding, doc.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	return sortByDistance(matches, opts.Limit), nil
}

// Count returns the number of stored documents.
func (c *Client) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.collectionName)
	if err := c.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanDocument scans a document from a result row.
func scanDocument(rows *sql.Rows) (*storage.Document, error) {
	var doc storage.Document
	var embeddingStr string
	var metadataStr sql.NullString

	if err := rows.Scan(&doc.ID, &doc.Text, &embeddingStr, &metadataStr); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embeddingStr), &doc.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}

	doc.Metadata = map[string]string{}
	if metadataStr.Valid && metadataStr.String != "" {
		if err := json.Unmarshal([]byte(metadataStr.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return &doc, nil
}

// sortByDistance sorts matches closest first and applies the limit.
func sortByDistance(matches []*storage.Match, limit int) []*storage.Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if limit > 0 && len(matches) > limit {
		return matches[:limit]
	}
	return matches
}
