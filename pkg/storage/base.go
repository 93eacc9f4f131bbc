// Package storage provides interfaces and types for vector index backends.
//
// It defines the VectorIndex interface that all backend implementations must satisfy.
// The index owns embeddings; everything else about a memory travels as flat string
// metadata so every backend can persist it without schema changes.
package storage

import (
	"context"
	"errors"
	"math"
)

// ErrNotFound is returned by Update when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a single entry in the vector index.
type Document struct {
	// ID is the memory identifier.
	ID string

	// Text is the stored memory text.
	Text string

	// Embedding is the vector for similarity search.
	Embedding []float64

	// Metadata holds the flattened memory record.
	Metadata map[string]string
}

// Match is a Document returned by Query together with its cosine distance.
type Match struct {
	Document

	// Distance is the cosine distance to the query vector.
	// Similarity is 1 - Distance.
	Distance float64
}

// Similarity returns 1 - Distance.
func (m *Match) Similarity() float64 {
	return 1 - m.Distance
}

// QueryOptions contains options for nearest-neighbour queries.
type QueryOptions struct {
	// Limit is the maximum number of matches to return.
	Limit int

	// Filters restricts matches to documents whose metadata equals every entry.
	Filters map[string]string
}

// VectorIndex defines the interface for vector index backends.
//
// All backends (chromem, SQLite, PostgreSQL, OceanBase) implement this interface.
type VectorIndex interface {
	// Add inserts a document, replacing any document with the same ID.
	Add(ctx context.Context, doc *Document) error

	// Get returns the documents for the given IDs in the same order.
	// Unknown IDs are skipped.
	Get(ctx context.Context, ids []string) ([]*Document, error)

	// Update replaces the metadata of an existing document.
	//
	// Returns ErrNotFound if the document does not exist.
	Update(ctx context.Context, id string, metadata map[string]string) error

	// Delete removes the documents with the given IDs. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Query returns the nearest documents to embedding, closest first.
	Query(ctx context.Context, embedding []float64, opts *QueryOptions) ([]*Match, error)

	// Count returns the number of documents in the index.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the index.
	Close() error
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Returns 0 if the vectors have different dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MatchesFilters reports whether metadata satisfies every filter entry.
func MatchesFilters(metadata, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
