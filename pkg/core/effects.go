package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/localmem-go/pkg/storage"
)

// WarningKind classifies a non-fatal condition.
type WarningKind string

const (
	// WarnNearDuplicate reports an existing memory in the similarity warning band.
	WarnNearDuplicate WarningKind = "near_duplicate"

	// WarnRetractedFiltered reports retracted memories dropped from search results.
	WarnRetractedFiltered WarningKind = "retracted_filtered"

	// WarnRerankFallback reports a failed rerank; results keep the fused order.
	WarnRerankFallback WarningKind = "rerank_fallback"

	// WarnDegradedKeywordQuery reports a rejected keyword query; ranking is vector-only.
	WarnDegradedKeywordQuery WarningKind = "degraded_keyword_query"

	// WarnTouchFailed reports a failed access bookkeeping write.
	WarnTouchFailed WarningKind = "touch_failed"
)

// Warning is a non-fatal condition met during an operation.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`

	// IDs lists the memories concerned, if any.
	IDs []string `json:"ids,omitempty"`

	// Similarity is set for near-duplicate warnings.
	Similarity float64 `json:"similarity,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// SideEffects receives the best-effort effects of engine operations.
//
// Failures of either method never fail the operation that caused them.
type SideEffects interface {
	// Touch records that records were returned by a search at now. It must
	// increment AccessCount and set LastAccessed on the records it persists.
	Touch(ctx context.Context, records []*MemoryRecord, now time.Time) error

	// Warn reports a non-fatal condition.
	Warn(ctx context.Context, w Warning)
}

// NopSideEffects discards every side effect.
type NopSideEffects struct{}

// Touch does nothing.
func (NopSideEffects) Touch(context.Context, []*MemoryRecord, time.Time) error { return nil }

// Warn does nothing.
func (NopSideEffects) Warn(context.Context, Warning) {}

// indexSideEffects persists touches to the vector index and logs warnings.
type indexSideEffects struct {
	index    storage.VectorIndex
	logger   *zap.Logger
	withLock func(context.Context, func() error) error
}

// Touch re-reads each record under the workspace lock and writes the incremented
// access count back, so a touch never restores fields that a correction, pin or
// decay changed since the search read them. The passed records are updated to match.
func (s *indexSideEffects) Touch(ctx context.Context, records []*MemoryRecord, now time.Time) error {
	return s.withLock(ctx, func() error {
		return s.touchLocked(ctx, records, now)
	})
}

func (s *indexSideEffects) touchLocked(ctx context.Context, records []*MemoryRecord, now time.Time) error {
	ids := make([]string, len(records))
	byID := make(map[string]*MemoryRecord, len(records))
	for i, r := range records {
		ids[i] = r.ID
		byID[r.ID] = r
	}

	docs, err := s.index.Get(ctx, ids)
	if err != nil {
		return fmt.Errorf("touch: %w", err)
	}

	var firstErr error
	for _, doc := range docs {
		fresh := fromDocument(doc)
		fresh.AccessCount++
		fresh.LastAccessed = now
		if err := s.index.Update(ctx, fresh.ID, toMetadata(fresh)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("touch %s: %w", fresh.ID, err)
			}
			continue
		}
		if r, ok := byID[fresh.ID]; ok {
			r.AccessCount = fresh.AccessCount
			r.LastAccessed = fresh.LastAccessed
		}
	}
	return firstErr
}

// Warn logs w at warn level.
func (s *indexSideEffects) Warn(ctx context.Context, w Warning) {
	fields := []zap.Field{zap.String("kind", string(w.Kind))}
	if len(w.IDs) > 0 {
		fields = append(fields, zap.Strings("ids", w.IDs))
	}
	if w.Similarity > 0 {
		fields = append(fields, zap.Float64("similarity", w.Similarity))
	}
	if w.Err != nil {
		fields = append(fields, zap.Error(w.Err))
	}
	s.logger.Warn(w.Message, fields...)
}
