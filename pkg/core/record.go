package core

import "time"

// Default categories.
const (
	DefaultCategory = "general"
	LessonCategory  = "lesson"
)

// MemoryRecord is one stored fact.
//
// The base fields are present on every record. Retraction, Correction and Lesson are
// optional groups: a non-nil Retraction means the record was retracted by a
// correction, a non-nil Correction marks a record that replaces a retracted one, and a
// non-nil Lesson marks a lesson record.
//
// The embedding is owned by the vector index and is not part of the record.
type MemoryRecord struct {
	// ID is derived from text, category and creation time and never changes.
	ID string `json:"id"`

	// Text is the stored fact.
	Text string `json:"text"`

	// Category is a coarse partition label such as "general" or "lesson".
	Category string `json:"category"`

	// ContentHash is the SHA-256 of the lowercased, trimmed text.
	ContentHash string `json:"content_hash"`

	// Confidence starts at 1.0 and is eroded by decay. Always in [0, 1].
	Confidence float64 `json:"confidence"`

	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
	CreatedAt    time.Time `json:"created_at"`

	// Pinned records are never touched by decay.
	Pinned bool `json:"pinned"`

	// Workspace and AgentID record where the memory came from.
	Workspace string `json:"workspace"`
	AgentID   string `json:"agent_id"`

	// Seq orders records by creation across processes.
	Seq int64 `json:"seq"`

	// Extra holds caller-supplied metadata.
	Extra map[string]string `json:"extra,omitempty"`

	Retraction *Retraction `json:"retraction,omitempty"`
	Correction *Correction `json:"correction,omitempty"`
	Lesson     *Lesson     `json:"lesson,omitempty"`
}

// Retraction is set on a record superseded by a correction.
type Retraction struct {
	RetractedAt time.Time `json:"retracted_at"`
	RetractedBy string    `json:"retracted_by"`
	Reason      string    `json:"reason,omitempty"`

	// ReplacedBy is the ID of the correction record.
	ReplacedBy string `json:"replaced_by,omitempty"`
}

// Correction is set on a record created by Correct.
type Correction struct {
	// CorrectsID is the ID of the retracted original.
	CorrectsID string `json:"corrects_id"`

	// OriginalTextSnippet is at most the first 500 runes of the original text.
	OriginalTextSnippet string `json:"original_text_snippet"`

	Reason string `json:"reason,omitempty"`
}

// Lesson is set on a record created by Lesson.
type Lesson struct {
	Mistake string `json:"mistake,omitempty"`
}

// IsRetracted reports whether the record has been retracted.
func (r *MemoryRecord) IsRetracted() bool {
	return r.Retraction != nil
}

// IsLesson reports whether the record is a lesson.
func (r *MemoryRecord) IsLesson() bool {
	return r.Lesson != nil
}

// lastTouched returns the last access time, or the creation time when never accessed.
func (r *MemoryRecord) lastTouched() time.Time {
	if !r.LastAccessed.IsZero() {
		return r.LastAccessed
	}
	return r.CreatedAt
}

// InsertionPolicy selects whether Add runs the duplicate checks.
type InsertionPolicy int

const (
	// Strict runs the exact and near-duplicate checks. It is the default.
	Strict InsertionPolicy = iota

	// Forced skips both checks and always inserts.
	Forced
)

// String returns the policy name.
func (p InsertionPolicy) String() string {
	if p == Forced {
		return "forced"
	}
	return "strict"
}

// AddOutcome is what Add did with the text.
type AddOutcome string

const (
	// OutcomeInserted means a new record was written.
	OutcomeInserted AddOutcome = "inserted"

	// OutcomeExactDuplicate means a record with the same content hash exists.
	OutcomeExactDuplicate AddOutcome = "exact_duplicate"

	// OutcomeNearDuplicate means a record with a near-identical embedding exists.
	OutcomeNearDuplicate AddOutcome = "near_duplicate"
)

// AddResult is the result of Add.
type AddResult struct {
	// ID is the new record, or the existing one for a duplicate.
	ID string `json:"id"`

	Outcome AddOutcome `json:"outcome"`

	// Similarity is the similarity of the near-duplicate, if any.
	Similarity float64 `json:"similarity,omitempty"`

	// Warnings lists near matches in the warning band that did not block insertion.
	Warnings []Warning `json:"warnings,omitempty"`
}

// SearchResult is one ranked record.
type SearchResult struct {
	Record *MemoryRecord `json:"record"`

	// Score is the fused score, or the blended rerank score when reranked.
	Score float64 `json:"score"`

	// FusedScore is the score before reranking.
	FusedScore float64 `json:"fused_score"`

	// VectorRank and KeywordRank are 0-based source positions, -1 when absent.
	VectorRank  int `json:"vector_rank"`
	KeywordRank int `json:"keyword_rank"`

	// Distance is the cosine distance to the query, 1 when the record came only from
	// the keyword index.
	Distance float64 `json:"distance"`

	// Retracted flags retracted records returned with WithIncludeRetracted.
	Retracted bool `json:"retracted,omitempty"`

	// Rating is the rerank model's 0-5 rating, or -1 when not rated.
	Rating int `json:"rating"`
}

// SearchResponse is the result of Search.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`

	// Intent is the classified query intent and the fusion weights used.
	Intent        string  `json:"intent"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`

	// RetractedFiltered counts retracted records dropped from the results.
	RetractedFiltered int `json:"retracted_filtered"`

	// Reranked reports whether the rerank model reordered the results.
	Reranked bool `json:"reranked"`

	Warnings []Warning `json:"warnings,omitempty"`
}

// Stats summarizes a workspace.
type Stats struct {
	Total         int            `json:"total_memories"`
	FTSIndexed    int            `json:"fts_indexed"`
	ByCategory    map[string]int `json:"by_category"`
	ByWorkspace   map[string]int `json:"by_workspace"`
	ByAgent       map[string]int `json:"by_agent"`
	AvgConfidence float64        `json:"avg_confidence"`

	// DecayEligible counts non-pinned records not accessed within the decay age.
	DecayEligible int `json:"decay_eligible"`

	Pinned      int `json:"pinned"`
	Retracted   int `json:"retracted"`
	Corrections int `json:"corrections"`
	Lessons     int `json:"lessons"`

	CurrentWorkspace string `json:"current_workspace"`
	CurrentAgent     string `json:"current_agent"`
	VectorDBPath     string `json:"vector_db_path"`
	FTSDBPath        string `json:"fts_db_path"`
	IsShared         bool   `json:"is_shared"`
}
