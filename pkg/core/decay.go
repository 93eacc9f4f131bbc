package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/storage"
)

// decayDeleteBatch is the number of IDs removed per index call.
const decayDeleteBatch = 100

// DecayAction is the change a decay pass makes to one memory.
type DecayAction struct {
	ID            string  `json:"id"`
	Snippet       string  `json:"text"`
	Verdict       string  `json:"action"`
	OldConfidence float64 `json:"old_confidence"`
	NewConfidence float64 `json:"new_confidence"`
}

// DecayReport is the result of Decay.
type DecayReport struct {
	DryRun bool `json:"dry_run"`

	Decayed        int `json:"decayed"`
	Deleted        int `json:"deleted"`
	Protected      int `json:"protected"`
	Skipped        int `json:"skipped"`
	TotalEvaluated int `json:"total_evaluated"`

	// Actions lists decayed and deleted memories in creation order.
	Actions []DecayAction `json:"actions"`

	Threshold float64 `json:"threshold"`
	AgeDays   int     `json:"age_days"`
}

// Decay lowers the confidence of memories not accessed for AgeDays and deletes those
// that fall below the threshold. Pinned memories are never changed.
//
// A dry run evaluates the same plan without taking the workspace lock or writing
// anything. A real pass evaluates and applies under the lock, so it never acts on a
// stale view.
//
// Example:
//
//	report, err := engine.Decay(ctx, core.WithDryRun(true))
//	fmt.Printf("%d would decay, %d would be deleted\n", report.Decayed, report.Deleted)
func (e *Engine) Decay(ctx context.Context, opts ...DecayOption) (report *DecayReport, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("decay", started, err) }()

	options := applyDecayOptions(opts, e.policy)
	if options.AgeDays < 0 {
		return nil, NewMemoryError("Decay", fmt.Errorf("%w: age days must not be negative", ErrInvalidInput))
	}
	policy := intelligence.DecayPolicy{
		Step:      e.policy.DecayStep,
		Threshold: options.Threshold,
		AgeDays:   options.AgeDays,
	}

	if options.DryRun {
		_, plan, err := e.planDecay(ctx, policy)
		if err != nil {
			return nil, NewMemoryError("Decay", err)
		}
		return newDecayReport(plan, options), nil
	}

	var plan *intelligence.DecayPlan
	err = e.withLock(ctx, func() error {
		records, p, err := e.planDecay(ctx, policy)
		if err != nil {
			return err
		}
		plan = p
		return e.applyDecayLocked(ctx, records, plan)
	})
	if err != nil {
		return nil, NewMemoryError("Decay", err)
	}

	e.metrics.RecordDecay(intelligence.VerdictDecayed.String(), plan.Decayed)
	e.metrics.RecordDecay(intelligence.VerdictDeleted.String(), plan.Deleted)
	e.logger.Info("decay applied",
		zap.Int("decayed", plan.Decayed),
		zap.Int("deleted", plan.Deleted),
		zap.Int("evaluated", plan.TotalEvaluated),
	)
	return newDecayReport(plan, options), nil
}

// planDecay loads every memory and evaluates policy against it.
func (e *Engine) planDecay(ctx context.Context, policy intelligence.DecayPolicy) (map[string]*MemoryRecord, *intelligence.DecayPlan, error) {
	records, err := e.records(ctx)
	if err != nil {
		return nil, nil, err
	}
	items := make([]intelligence.DecayItem, len(records))
	byID := make(map[string]*MemoryRecord, len(records))
	for i, r := range records {
		items[i] = toDecayItem(r)
		byID[r.ID] = r
	}
	return byID, intelligence.PlanDecay(items, e.now().UTC(), policy), nil
}

// applyDecayLocked writes plan. The caller must hold the workspace lock.
func (e *Engine) applyDecayLocked(ctx context.Context, records map[string]*MemoryRecord, plan *intelligence.DecayPlan) error {
	for id, confidence := range plan.Updates() {
		r := records[id]
		r.Confidence = confidence
		if err := e.index.Update(ctx, id, toMetadata(r)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return unavailable(ErrStorageOperation, err)
		}
	}

	deletions := plan.Deletions()
	for start := 0; start < len(deletions); start += decayDeleteBatch {
		end := min(start+decayDeleteBatch, len(deletions))
		if err := e.deleteLocked(ctx, deletions[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func newDecayReport(plan *intelligence.DecayPlan, options *DecayOptions) *DecayReport {
	report := &DecayReport{
		DryRun:         options.DryRun,
		Decayed:        plan.Decayed,
		Deleted:        plan.Deleted,
		Protected:      plan.Protected,
		Skipped:        plan.Skipped,
		TotalEvaluated: plan.TotalEvaluated,
		Actions:        make([]DecayAction, 0, len(plan.Actions)),
		Threshold:      options.Threshold,
		AgeDays:        options.AgeDays,
	}
	for _, a := range plan.Actions {
		report.Actions = append(report.Actions, DecayAction{
			ID:            a.ID,
			Snippet:       a.Snippet,
			Verdict:       a.Verdict.String(),
			OldConfidence: a.OldConfidence,
			NewConfidence: a.NewConfidence,
		})
	}
	return report
}
