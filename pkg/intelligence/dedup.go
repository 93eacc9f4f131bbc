package intelligence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/oceanbase/localmem-go/pkg/storage"
)

// ContentHash returns the SHA-256 hex digest of the lowercased, trimmed text.
//
// Two texts with the same hash are exact duplicates.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

// Neighbour is an existing memory close to a new embedding.
type Neighbour struct {
	ID         string
	Text       string
	Similarity float64
}

// DedupResult is the verdict of a near-duplicate check.
type DedupResult struct {
	// Duplicate is the neighbour at or above the duplicate threshold, if any.
	Duplicate *Neighbour

	// Similar lists neighbours inside the warning band that were seen before any
	// duplicate. They do not block insertion.
	Similar []Neighbour
}

// IsDuplicate reports whether the check found a near-duplicate.
func (r *DedupResult) IsDuplicate() bool {
	return r != nil && r.Duplicate != nil
}

// DedupManager detects near-duplicate memories by vector similarity.
//
// Example usage:
//
//	manager := NewDedupManager(index, 0.95, 0.88, 3)
//	result, err := manager.CheckDuplicate(ctx, embedding)
//	if result.IsDuplicate() {
//	    return result.Duplicate.ID
//	}
type DedupManager struct {
	// index is the vector index searched for neighbours.
	index storage.VectorIndex

	// threshold is the similarity at or above which a neighbour is a duplicate.
	threshold float64

	// warn is the lower bound of the warning band [warn, threshold).
	warn float64

	// neighbours is how many nearest memories are inspected.
	neighbours int
}

// NewDedupManager creates a new deduplication manager.
//
// Parameters:
//   - index: Vector index for similarity search
//   - threshold: Duplicate threshold (0.0-1.0). If 0, defaults to 0.95.
//   - warn: Lower bound of the warning band. If 0, defaults to 0.88.
//   - neighbours: Number of neighbours to inspect. If 0, defaults to 3.
func NewDedupManager(index storage.VectorIndex, threshold, warn float64, neighbours int) *DedupManager {
	if threshold == 0 {
		threshold = 0.95
	}
	if warn == 0 {
		warn = 0.88
	}
	if neighbours <= 0 {
		neighbours = 3
	}
	return &DedupManager{
		index:      index,
		threshold:  threshold,
		warn:       warn,
		neighbours: neighbours,
	}
}

// CheckDuplicate queries the nearest memories to embedding and classifies them.
//
// Returns an empty result when the index is empty, or an error if the query fails.
func (m *DedupManager) CheckDuplicate(ctx context.Context, embedding []float64) (*DedupResult, error) {
	matches, err := m.index.Query(ctx, embedding, &storage.QueryOptions{Limit: m.neighbours})
	if err != nil {
		return nil, err
	}

	neighbours := make([]Neighbour, 0, len(matches))
	for _, match := range matches {
		neighbours = append(neighbours, Neighbour{
			ID:         match.ID,
			Text:       match.Text,
			Similarity: match.Similarity(),
		})
	}
	return ClassifyNeighbours(neighbours, m.threshold, m.warn), nil
}

// ClassifyNeighbours applies the duplicate threshold and warning band to neighbours,
// which must be ordered most similar first.
//
// The first neighbour at or above threshold is the duplicate. Neighbours in
// [warn, threshold) seen before it are reported as similar.
func ClassifyNeighbours(neighbours []Neighbour, threshold, warn float64) *DedupResult {
	result := &DedupResult{}
	for i := range neighbours {
		n := neighbours[i]
		if n.Similarity >= threshold {
			result.Duplicate = &n
			return result
		}
		if n.Similarity >= warn {
			result.Similar = append(result.Similar, n)
		}
	}
	return result
}
