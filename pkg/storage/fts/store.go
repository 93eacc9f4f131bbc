// Package fts provides the workspace keyword index and content-hash ledger.
//
// Both live in one SQLite database (memory.db) so an insertion can write the
// full-text row and the ledger row in a single transaction. The pure-Go
// modernc.org/sqlite driver ships FTS5 and its bm25() ranking function built in.
package fts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrMalformedQuery is returned by Query when FTS5 rejects the match expression.
var ErrMalformedQuery = errors.New("malformed keyword query")

var (
	// keywordPattern extracts the keywords column from document text.
	keywordPattern = regexp.MustCompile(`\b\w{3,}\b`)

	// queryTermPattern extracts query terms of two or more characters.
	queryTermPattern = regexp.MustCompile(`\b\w{2,}\b`)
)

// Store is the keyword index and content-hash ledger of one workspace.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is one row to record on insertion.
type Entry struct {
	ID          string
	Text        string
	ContentHash string
	Category    string
	Seq         int64
	CreatedAt   time.Time
}

// Hit is a keyword match. Lower Score is more relevant, as returned by bm25().
type Hit struct {
	ID    string
	Score float64
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("OpenFTS: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("OpenFTS: %w", err)
	}
	// One connection avoids SQLITE_BUSY between pooled connections of this process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenFTS: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initTables(ctx context.Context) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			doc_id UNINDEXED,
			text,
			keywords,
			tokenize='porter unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS memory_hashes (
			doc_id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			seq INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_hashes_hash ON memory_hashes(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_hashes_category ON memory_hashes(category)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// Insert writes the full-text row and the ledger row for e in one transaction.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A retried insertion must not leave a second FTS row behind.
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE doc_id = ?`, e.ID); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (doc_id, text, keywords) VALUES (?, ?, ?)`,
		e.ID, e.Text, Keywords(e.Text),
	); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_hashes (doc_id, content_hash, category, seq, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ContentHash, e.Category, e.Seq, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Delete removes the full-text and ledger rows of ids.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM memories_fts WHERE doc_id IN (%s)`, placeholders), args...); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM memory_hashes WHERE doc_id IN (%s)`, placeholders), args...); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Query ranks documents against query with BM25, best first.
//
// The query is tokenized into terms of at least two word characters which are
// OR-ed together. An empty tokenization returns no hits. When category is not empty
// only documents recorded under that category are returned. A match expression that
// FTS5 rejects returns ErrMalformedQuery and no hits. Other database failures
// do not match ErrMalformedQuery.
func (s *Store) Query(ctx context.Context, query string, limit int, category string) ([]Hit, error) {
	expr := MatchExpression(query)
	if expr == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `SELECT f.doc_id, bm25(memories_fts) AS score
		FROM memories_fts f`
	args := []interface{}{}
	if category != "" {
		sqlQuery += ` JOIN memory_hashes h ON h.doc_id = f.doc_id
		WHERE memories_fts MATCH ? AND h.category = ?`
		args = append(args, expr, category)
	} else {
		sqlQuery += ` WHERE memories_fts MATCH ?`
		args = append(args, expr)
	}
	sqlQuery += ` ORDER BY score LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, queryError(err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err)
	}
	return hits, nil
}

// queryError tags FTS5 match expression errors with ErrMalformedQuery. Anything
// else is a database failure and is returned as is.
func queryError(err error) error {
	if isMatchError(err) {
		return fmt.Errorf("Query: %w: %v", ErrMalformedQuery, err)
	}
	return fmt.Errorf("Query: %w", err)
}

func isMatchError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") ||
		strings.Contains(msg, "malformed MATCH") ||
		strings.Contains(msg, "unterminated string")
}

// Count returns the number of indexed documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories_fts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Keywords returns the space-joined words of three or more characters in text, lowercased.
func Keywords(text string) string {
	seen := map[string]bool{}
	var out []string
	for _, w := range keywordPattern.FindAllString(strings.ToLower(text), -1) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// MatchExpression builds the FTS5 OR expression for query.
//
// Each term is double-quoted so FTS5 treats it as a string, not an operator.
func MatchExpression(query string) string {
	terms := queryTermPattern.FindAllString(strings.ToLower(query), -1)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
