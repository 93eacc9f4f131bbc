// Package intelligence provides the ranking and housekeeping algorithms of the memory
// engine: duplicate detection, intent classification, reciprocal rank fusion, confidence
// decay and LLM reranking.
//
// Everything here is independent of how records are persisted. The core package adapts
// its records into the small value types below, which keeps this package free of
// import cycles and easy to test in isolation.
package intelligence

import "time"

// Candidate is a search result as seen by the reranker.
type Candidate struct {
	// ID is the memory identifier.
	ID string

	// Text is the memory text shown to the rating model.
	Text string

	// Score is the fused score the candidate arrived with.
	Score float64
}

// Reranked is a Candidate after reranking.
type Reranked struct {
	Candidate

	// Rating is the model's 0-5 relevance rating, or -1 when the candidate
	// was beyond the rated window and kept its position.
	Rating int

	// RerankScore blends Score and Rating; equal to Score when Rating is -1.
	RerankScore float64
}

// DecayItem is the view of a memory the decay planner needs.
type DecayItem struct {
	ID           string
	Text         string
	Confidence   float64
	Pinned       bool
	CreatedAt    time.Time
	LastAccessed time.Time
}
