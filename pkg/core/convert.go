package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/storage"
)

// Metadata keys of a flattened record. The names match existing workspaces.
const (
	keyCategory         = "category"
	keyTimestamp        = "timestamp"
	keyWorkspace        = "workspace"
	keyAgentID          = "agent_id"
	keyConfidence       = "confidence"
	keyAccessCount      = "access_count"
	keyLastAccessed     = "last_accessed"
	keyPinned           = "pinned"
	keyContentHash      = "content_hash"
	keySeq              = "seq"
	keyRetracted        = "retracted"
	keyRetractedAt      = "retracted_at"
	keyRetractedBy      = "retracted_by_agent"
	keyRetractionReason = "retraction_reason"
	keyReplacedBy       = "replaced_by"
	keyCorrectsID       = "corrects_id"
	keyOriginalText     = "original_text"
	keyCorrectionReason = "correction_reason"
	keyIsLesson         = "is_lesson"
	keyMistake          = "mistake"
)

var reservedKeys = map[string]bool{
	keyCategory: true, keyTimestamp: true, keyWorkspace: true, keyAgentID: true,
	keyConfidence: true, keyAccessCount: true, keyLastAccessed: true, keyPinned: true,
	keyContentHash: true, keySeq: true, keyRetracted: true, keyRetractedAt: true,
	keyRetractedBy: true, keyRetractionReason: true, keyReplacedBy: true,
	keyCorrectsID: true, keyOriginalText: true, keyCorrectionReason: true,
	keyIsLesson: true, keyMistake: true,
}

// toMetadata flattens r into vector index metadata.
//
// Extra entries never override reserved keys.
func toMetadata(r *MemoryRecord) map[string]string {
	meta := make(map[string]string, 12+len(r.Extra))
	for k, v := range r.Extra {
		if !reservedKeys[k] {
			meta[k] = v
		}
	}

	meta[keyCategory] = r.Category
	meta[keyTimestamp] = formatTime(r.CreatedAt)
	meta[keyWorkspace] = r.Workspace
	meta[keyAgentID] = r.AgentID
	meta[keyConfidence] = strconv.FormatFloat(r.Confidence, 'f', -1, 64)
	meta[keyAccessCount] = strconv.Itoa(r.AccessCount)
	meta[keyLastAccessed] = formatTime(r.LastAccessed)
	meta[keyPinned] = strconv.FormatBool(r.Pinned)
	meta[keyContentHash] = r.ContentHash
	meta[keySeq] = strconv.FormatInt(r.Seq, 10)

	if r.Retraction != nil {
		meta[keyRetracted] = "true"
		meta[keyRetractedAt] = formatTime(r.Retraction.RetractedAt)
		meta[keyRetractedBy] = r.Retraction.RetractedBy
		if r.Retraction.Reason != "" {
			meta[keyRetractionReason] = r.Retraction.Reason
		}
		if r.Retraction.ReplacedBy != "" {
			meta[keyReplacedBy] = r.Retraction.ReplacedBy
		}
	}
	if r.Correction != nil {
		meta[keyCorrectsID] = r.Correction.CorrectsID
		meta[keyOriginalText] = r.Correction.OriginalTextSnippet
		if r.Correction.Reason != "" {
			meta[keyCorrectionReason] = r.Correction.Reason
		}
	}
	if r.Lesson != nil {
		meta[keyIsLesson] = "true"
		if r.Lesson.Mistake != "" {
			meta[keyMistake] = r.Lesson.Mistake
		}
	}
	return meta
}

// toDocument builds the vector index document for r.
func toDocument(r *MemoryRecord, embedding []float64) *storage.Document {
	return &storage.Document{
		ID:        r.ID,
		Text:      r.Text,
		Embedding: embedding,
		Metadata:  toMetadata(r),
	}
}

// fromDocument parses a vector index document back into a record.
//
// Parsing is lenient: booleans accept any casing of "true", an unparsable
// confidence reads as 1.0 and unparsable times read as zero.
func fromDocument(doc *storage.Document) *MemoryRecord {
	meta := doc.Metadata
	r := &MemoryRecord{
		ID:           doc.ID,
		Text:         doc.Text,
		Category:     meta[keyCategory],
		ContentHash:  meta[keyContentHash],
		Confidence:   parseConfidence(meta[keyConfidence]),
		AccessCount:  parseInt(meta[keyAccessCount]),
		LastAccessed: parseTime(meta[keyLastAccessed]),
		CreatedAt:    parseTime(meta[keyTimestamp]),
		Pinned:       parseBool(meta[keyPinned]),
		Workspace:    meta[keyWorkspace],
		AgentID:      meta[keyAgentID],
		Seq:          parseInt64(meta[keySeq]),
	}
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.ContentHash == "" {
		r.ContentHash = intelligence.ContentHash(r.Text)
	}

	if parseBool(meta[keyRetracted]) {
		r.Retraction = &Retraction{
			RetractedAt: parseTime(meta[keyRetractedAt]),
			RetractedBy: meta[keyRetractedBy],
			Reason:      meta[keyRetractionReason],
			ReplacedBy:  meta[keyReplacedBy],
		}
	}
	if id := meta[keyCorrectsID]; id != "" {
		r.Correction = &Correction{
			CorrectsID:          id,
			OriginalTextSnippet: meta[keyOriginalText],
			Reason:              meta[keyCorrectionReason],
		}
	}
	if parseBool(meta[keyIsLesson]) {
		r.Lesson = &Lesson{Mistake: meta[keyMistake]}
	}

	for k, v := range meta {
		if reservedKeys[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[k] = v
	}
	return r
}

func fromDocuments(docs []*storage.Document) []*MemoryRecord {
	records := make([]*MemoryRecord, len(docs))
	for i, doc := range docs {
		records[i] = fromDocument(doc)
	}
	return records
}

// toDecayItem converts r to the view the decay planner needs.
func toDecayItem(r *MemoryRecord) intelligence.DecayItem {
	return intelligence.DecayItem{
		ID:           r.ID,
		Text:         r.Text,
		Confidence:   r.Confidence,
		Pinned:       r.Pinned,
		CreatedAt:    r.CreatedAt,
		LastAccessed: r.LastAccessed,
	}
}

// legacyTimeLayout is the naive local timestamp format of older workspaces.
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.ParseInLocation(legacyTimeLayout, s, time.Local); err == nil {
		return t
	}
	return time.Time{}
}

func parseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseConfidence(s string) float64 {
	c, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 1.0
	}
	return intelligence.RoundConfidence(c)
}
