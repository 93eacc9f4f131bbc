package intelligence

import (
	"math"
	"time"
)

// DecayPolicy parameterizes a decay pass.
type DecayPolicy struct {
	// Step is subtracted from the confidence of every stale memory (default 0.10).
	Step float64

	// Threshold deletes a memory whose new confidence falls below it (default 0.15).
	Threshold float64

	// AgeDays is how long a memory must go unaccessed to be stale (default 30).
	AgeDays int
}

// DefaultDecayPolicy returns the default decay parameters.
func DefaultDecayPolicy() DecayPolicy {
	return DecayPolicy{Step: 0.10, Threshold: 0.15, AgeDays: 30}
}

// DecayVerdict is what a pass does to one memory.
type DecayVerdict int

const (
	// VerdictProtected marks a pinned memory, left untouched.
	VerdictProtected DecayVerdict = iota
	// VerdictSkipped marks a recently accessed memory, left untouched.
	VerdictSkipped
	// VerdictDecayed marks a memory whose confidence is lowered.
	VerdictDecayed
	// VerdictDeleted marks a memory whose confidence fell below the threshold.
	VerdictDeleted
)

// String returns the lowercase verdict name.
func (v DecayVerdict) String() string {
	switch v {
	case VerdictProtected:
		return "protected"
	case VerdictSkipped:
		return "skipped"
	case VerdictDecayed:
		return "decayed"
	case VerdictDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// DecayAction is a planned change to one memory.
type DecayAction struct {
	ID            string
	Snippet       string
	Verdict       DecayVerdict
	OldConfidence float64
	NewConfidence float64
}

// DecayPlan is the evaluated outcome of a decay pass.
type DecayPlan struct {
	// Actions lists the decayed and deleted memories in evaluation order.
	Actions []DecayAction

	Decayed        int
	Deleted        int
	Protected      int
	Skipped        int
	TotalEvaluated int
}

// Updates returns the new confidences of decayed memories keyed by ID.
func (p *DecayPlan) Updates() map[string]float64 {
	out := make(map[string]float64)
	for _, a := range p.Actions {
		if a.Verdict == VerdictDecayed {
			out[a.ID] = a.NewConfidence
		}
	}
	return out
}

// Deletions returns the IDs to delete, in evaluation order.
func (p *DecayPlan) Deletions() []string {
	var out []string
	for _, a := range p.Actions {
		if a.Verdict == VerdictDeleted {
			out = append(out, a.ID)
		}
	}
	return out
}

// snippetLength is the number of runes of text kept in an action.
const snippetLength = 60

// PlanDecay evaluates items against policy at time now. It never mutates anything.
//
// A pinned memory is protected. A memory accessed (or, if never accessed, created)
// after now-AgeDays is skipped. Every other memory has Step subtracted from its
// confidence, rounded to two decimals and floored at zero; it is deleted if the
// result is below Threshold and decayed otherwise.
func PlanDecay(items []DecayItem, now time.Time, policy DecayPolicy) *DecayPlan {
	cutoff := now.Add(-time.Duration(policy.AgeDays) * 24 * time.Hour)
	plan := &DecayPlan{TotalEvaluated: len(items)}

	for _, item := range items {
		if item.Pinned {
			plan.Protected++
			continue
		}

		last := item.LastAccessed
		if last.IsZero() {
			last = item.CreatedAt
		}
		if !last.IsZero() && last.After(cutoff) {
			plan.Skipped++
			continue
		}

		newConfidence := RoundConfidence(item.Confidence - policy.Step)
		action := DecayAction{
			ID:            item.ID,
			Snippet:       Snippet(item.Text, snippetLength),
			OldConfidence: item.Confidence,
			NewConfidence: newConfidence,
		}
		if newConfidence < policy.Threshold {
			action.Verdict = VerdictDeleted
			plan.Deleted++
		} else {
			action.Verdict = VerdictDecayed
			plan.Decayed++
		}
		plan.Actions = append(plan.Actions, action)
	}

	return plan
}

// RoundConfidence rounds c to two decimals and clamps it to [0, 1].
func RoundConfidence(c float64) float64 {
	c = math.Round(c*100) / 100
	return math.Max(0, math.Min(1, c))
}

// Snippet returns at most n runes of text.
func Snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
