// Package postgres provides a PostgreSQL + pgvector implementation of the vector index.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/oceanbase/localmem-go/pkg/storage"
)

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// DSN returns the lib/pq connection string for cfg.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	name := cfg.CollectionName
	if name == "" {
		name = "memories"
	}

	client := &Client{
		db:             db,
		collectionName: name,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables enables pgvector and creates the table.
func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, c.collectionName, c.dimensions)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_category ON %s((metadata->>'category'))
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}

	return nil
}

// Add inserts or replaces a document.
func (c *Client) Add(ctx context.Context, doc *storage.Document) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at
	`, c.collectionName)

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		doc.ID,
		doc.Text,
		vectorToString(doc.Embedding),
		string(metadataJSON),
		time.Now(),
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

	query := fmt.Sprintf(`
		SELECT id, content, embedding::text, metadata
		FROM %s
		WHERE id = ANY($1)
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query, pq.Array(ids))
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
		UPDATE %s SET metadata = $1, updated_at = $2 WHERE id = $3
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query, string(metadataJSON), time.Now(), id)
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

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", c.collectionName)
	if _, err := c.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Query performs vector search using pgvector's cosine distance operator.
func (c *Client) Query(ctx context.Context, embedding []float64, opts *storage.QueryOptions) ([]*storage.Match, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}

	// $1 is the query vector.
	whereClause, filterArgs := buildWhereClauseWithOffset(opts.Filters, 2)

	limitClause := ""
	allArgs := []interface{}{vectorToString(embedding)}
	allArgs = append(allArgs, filterArgs...)
	if opts.Limit > 0 {
		limitClause = "LIMIT $" + strconv.Itoa(len(allArgs)+1)
		allArgs = append(allArgs, opts.Limit)
	}

	query := fmt.Sprintf(`
		SELECT id, content, embedding::text, metadata, embedding <=> $1::vector AS distance
		FROM %s
		%s
		ORDER BY embedding <=> $1::vector
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

// vectorToString converts a vector to PostgreSQL vector format.
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// parseVectorString parses pgvector's text form "[0.1,0.2]".
func parseVectorString(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

// scanDocument scans one row, optionally with a trailing distance column.
func scanDocument(rows *sql.Rows, withDistance bool) (*storage.Document, float64, error) {
	var doc storage.Document
	var embeddingStr string
	var metadataBytes []byte
	var distance float64

	dest := []interface{}{&doc.ID, &doc.Text, &embeddingStr, &metadataBytes}
	if withDistance {
		dest = append(dest, &distance)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, err
	}

	embedding, err := parseVectorString(embeddingStr)
	if err != nil {
		return nil, 0, fmt.Errorf("parse embedding: %w", err)
	}
	doc.Embedding = embedding

	doc.Metadata = map[string]string{}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &doc.Metadata); err != nil {
			return nil, 0, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return &doc, distance, nil
}
