package fts

import (
	"context"
	"database/sql"
	"fmt"
)

// LookupHash returns the oldest memory owning contentHash, or "" if none does.
func (s *Store) LookupHash(ctx context.Context, contentHash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id FROM memory_hashes WHERE content_hash = ? ORDER BY seq LIMIT 1`,
		contentHash,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("LookupHash: %w", err)
	}
	return id, nil
}

// IDs returns every recorded memory ID in creation order.
// A non-empty category restricts the result to that category.
func (s *Store) IDs(ctx context.Context, category string) ([]string, error) {
	query := `SELECT doc_id FROM memory_hashes`
	var args []interface{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY seq, doc_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("IDs: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("IDs: %w", err)
	}
	return ids, nil
}

// Has reports whether id is recorded in the ledger.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memory_hashes WHERE doc_id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Has: %w", err)
	}
	return true, nil
}
