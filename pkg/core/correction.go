package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/metrics"
)

// originalSnippetLength is how many runes of a retracted text a correction keeps.
const originalSnippetLength = 500

// Correct retracts a memory and stores correctedText as its replacement.
//
// The original is kept, marked retracted and linked to the new record through
// ReplacedBy; the new record links back through Correction.CorrectsID and inherits the
// original's category. Both writes happen under one workspace lock, so no reader sees
// the original retracted without its replacement. Duplicate checks are skipped because
// a correction is usually close to the text it replaces.
//
// Parameters:
//   - ctx: Context for cancellation
//   - memoryID: ID of the memory to retract
//   - correctedText: The corrected fact
//   - reason: Optional reason recorded on both records
//
// Returns the ID of the correction record, or ErrNotFound if memoryID does not exist.
//
// Example:
//
//	newID, err := engine.Correct(ctx, id, "User prefers light mode", "user changed mind")
func (e *Engine) Correct(ctx context.Context, memoryID, correctedText, reason string) (id string, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("correct", started, err) }()

	id, err = e.correct(ctx, memoryID, correctedText, reason)
	if err != nil {
		return "", NewMemoryError("Correct", err)
	}
	return id, nil
}

func (e *Engine) correct(ctx context.Context, memoryID, correctedText, reason string) (string, error) {
	correctedText = strings.TrimSpace(correctedText)
	if correctedText == "" {
		return "", fmt.Errorf("%w: corrected text is empty", ErrInvalidInput)
	}

	original, err := e.get(ctx, memoryID)
	if err != nil {
		return "", err
	}

	options := &AddOptions{
		Category: original.Category,
		Policy:   Forced,
		correction: &Correction{
			CorrectsID:          memoryID,
			OriginalTextSnippet: intelligence.Snippet(original.Text, originalSnippetLength),
			Reason:              reason,
		},
	}
	record := e.newRecord(correctedText, intelligence.ContentHash(correctedText), options)

	embedding, err := e.embedder.Embed(ctx, correctedText)
	if err != nil {
		return "", unavailable(ErrEmbeddingFailed, err)
	}

	err = e.withLock(ctx, func() error {
		// Re-read under the lock so a concurrent writer's changes are kept.
		current, err := e.get(ctx, memoryID)
		if err != nil {
			return err
		}
		if err := e.insertLocked(ctx, record, embedding); err != nil {
			return err
		}

		current.Retraction = &Retraction{
			RetractedAt: e.now().UTC(),
			RetractedBy: e.agentID,
			Reason:      reason,
			ReplacedBy:  record.ID,
		}
		if err := e.index.Update(ctx, memoryID, toMetadata(current)); err != nil {
			if rbErr := e.deleteLocked(context.WithoutCancel(ctx), []string{record.ID}); rbErr != nil {
				e.logger.Error("rollback of correction failed", zap.String("id", record.ID), zap.Error(rbErr))
			}
			return unavailable(ErrStorageOperation, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	e.metrics.RecordInsert(metrics.OutcomeInserted)
	e.logger.Info("memory corrected",
		zap.String("original_id", memoryID),
		zap.String("new_id", record.ID),
	)
	return record.ID, nil
}

// Lesson stores a lesson learned, optionally with the mistake that taught it.
//
// The stored text is "LESSON: <text>", followed by " | MISTAKE: <mistake>" when a
// mistake is given. An empty category stores the lesson under "lesson". Lessons are
// always inserted, without duplicate checks.
//
// Returns the ID of the lesson record.
func (e *Engine) Lesson(ctx context.Context, text, mistake, category string) (id string, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("lesson", started, err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewMemoryError("Lesson", fmt.Errorf("%w: lesson text is empty", ErrInvalidInput))
	}
	if category == "" {
		category = LessonCategory
	}

	content := "LESSON: " + text
	if mistake = strings.TrimSpace(mistake); mistake != "" {
		content += " | MISTAKE: " + mistake
	}

	result, err := e.add(ctx, content, applyAddOptions([]AddOption{
		WithCategory(category),
		WithPolicy(Forced),
		withLesson(mistake),
	}))
	if err != nil {
		return "", NewMemoryError("Lesson", err)
	}
	return result.ID, nil
}
