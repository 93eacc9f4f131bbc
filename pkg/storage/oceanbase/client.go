// Package oceanbase provides an OceanBase implementation of the vector index.
//
// OceanBase speaks the MySQL protocol and offers a native VECTOR column type with
// cosine_distance, so nearest-neighbour ranking happens inside the database.
package oceanbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/localmem-go/pkg/storage"
)

// Client is an OceanBase client.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int

	// HNSW builds an HNSW vector index on the embedding column when true.
	HNSW bool
}

// DSN returns the MySQL-protocol connection string for cfg.
func (cfg *Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	return mc.FormatDSN()
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	name := cfg.CollectionName
	if name == "" {
		name = "memories"
	}

	client := &Client{
		db:             db,
		config:         cfg,
		collectionName: name,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the table and, optionally, the HNSW index.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			embedding VECTOR(%d),
			document LONGTEXT,
			metadata JSON,
			category VARCHAR(64),
			updated_at VARCHAR(128),
			INDEX idx_category (category)
		)
	`, c.collectionName, c.config.EmbeddingModelDims)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	if c.config.HNSW {
		indexQuery := fmt.Sprintf(`
			CREATE VECTOR INDEX IF NOT EXISTS idx_%s_embedding ON %s (embedding) WITH (
				distance = cosine,
				type = hnsw,
				lib = vsag
			)`, c.collectionName, c.collectionName)
		if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
			return fmt.Errorf("initTables: create vector index: %w", err)
		}
	}

	return nil
}

// Add inserts or replaces a document.
func (c *Client) Add(ctx context.Context, doc *storage.Document) error {
	query := fmt.Sprintf(`
		REPLACE INTO %s (id, document, embedding, metadata, category, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		doc.ID,
		doc.Text,
		vectorToString(doc.Embedding),
		metadataJSON,
		doc.Metadata["category"],
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}
	return nil
}

// Get returns the documents for ids in the order given.
func (c *Client) Get(ctx context.Context, ids []string) ([]*storage.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(ids)
	query := fmt.Sprintf(`
		SELECT id, document, embedding, metadata
		FROM %s
		WHERE id IN (%s)
	`, c.collectionName, placeholders)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*storage.Document, len(ids))
	for rows.Next() {
		doc, _, err := scanDocument(rows, false)
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
		UPDATE %s SET metadata = ?, category = ?, updated_at = ? WHERE id = ?
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query, metadataJSON, metadata["category"], time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if rowsAffected == 0 {
		// MySQL reports zero affected rows for identical values too.
		var exists int
		err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", c.collectionName), id).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("Update: %s: %w", id, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("Update: %w", err)
		}
	}
	return nil
}

// Delete removes documents by ID.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders, args := inClause(ids)
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", c.collectionName, placeholders)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Query performs vector search ordered by cosine_distance.
func (c *Client) Query(ctx context.Context, embedding []float64, opts *storage.QueryOptions) ([]*storage.Match, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}

	whereClause, args := buildWhereClause(opts.Filters)

	limitClause := ""
	allArgs := append([]interface{}{vectorToString(embedding)}, args...)
	if opts.Limit > 0 {
		limitClause = "LIMIT ?"
		allArgs = append(allArgs, opts.Limit)
	}

	query := fmt.Sprintf(`
		SELECT id, document, embedding, metadata,
			cosine_distance(embedding, ?) AS distance
		FROM %s
		%s
		ORDER BY distance ASC
		%s
	`, c.collectionName, whereClause, limitClause)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*storage.Match
	for rows.Next() {
		doc, distance, err := scanDocument(rows, true)
		if err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}
		matches = append(matches, &storage.Match{Document: *doc, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	return matches, nil
}

// Count returns the number of stored documents.
func (c *Client) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", c.collectionName)).Scan(&n); err != nil {
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

// scanDocument scans one row, optionally with a trailing distance column.
func scanDocument(rows *sql.Rows, withDistance bool) (*storage.Document, float64, error) {
	var doc storage.Document
	var embeddingStr string
	var metadataJSON []byte
	var distance float64

	dest := []interface{}{&doc.ID, &doc.Text, &embeddingStr, &metadataJSON}
	if withDistance {
		dest = append(dest, &distance)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, err
	}

	embedding, err := stringToVector(embeddingStr)
	if err != nil {
		return nil, 0, fmt.Errorf("parse embedding: %w", err)
	}
	doc.Embedding = embedding

	doc.Metadata = map[string]string{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, 0, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return &doc, distance, nil
}

func inClause(ids []string) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
