package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/core"
)

const month = 31 * 24 * time.Hour

// decayTo runs real decay passes until the record reaches confidence.
func decayTo(t *testing.T, env *testEnv, id string, confidence float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		record, err := env.engine.Get(ctx, id)
		require.NoError(t, err)
		if record.Confidence <= confidence+1e-9 {
			return
		}
		_, err = env.engine.Decay(ctx)
		require.NoError(t, err)
	}
	t.Fatalf("record %s never reached confidence %.2f", id, confidence)
}

func TestEngine_DecayLowersStaleConfidence(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	stale, err := env.engine.Add(ctx, "Old parking spot was level two")
	require.NoError(t, err)
	env.clock.Advance(month)
	fresh, err := env.engine.Add(ctx, "New parking spot is level four")
	require.NoError(t, err)

	report, err := env.engine.Decay(ctx)
	require.NoError(t, err)
	assert.False(t, report.DryRun)
	assert.Equal(t, 1, report.Decayed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 2, report.TotalEvaluated)
	assert.Equal(t, 0.15, report.Threshold)
	assert.Equal(t, 30, report.AgeDays)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, stale.ID, report.Actions[0].ID)
	assert.Equal(t, "decayed", report.Actions[0].Verdict)
	assert.Equal(t, 0.9, report.Actions[0].NewConfidence)

	record, err := env.engine.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, record.Confidence)

	record, err = env.engine.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, record.Confidence)
}

func TestEngine_DecayDeletesBelowThreshold(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	result, err := env.engine.Add(ctx, "Printer toner model is TN-2420")
	require.NoError(t, err)
	env.clock.Advance(month)
	decayTo(t, env, result.ID, 0.20)

	dry1, err := env.engine.Decay(ctx, core.WithDryRun(true))
	require.NoError(t, err)
	dry2, err := env.engine.Decay(ctx, core.WithDryRun(true))
	require.NoError(t, err)
	assert.Equal(t, dry1, dry2, "a dry run is repeatable")
	assert.True(t, dry1.DryRun)
	assert.Equal(t, 1, dry1.Deleted)
	assert.Equal(t, 0.20, dry1.Actions[0].OldConfidence)
	assert.Equal(t, 0.10, dry1.Actions[0].NewConfidence)

	record, err := env.engine.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.20, record.Confidence, "a dry run mutates nothing")

	report, err := env.engine.Decay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	_, err = env.engine.Get(ctx, result.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	stats, err := env.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.FTSIndexed)
}

func TestEngine_DecayProtectsPinned(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	result, err := env.engine.Add(ctx, "Passport number is in the safe")
	require.NoError(t, err)
	env.clock.Advance(month)
	decayTo(t, env, result.ID, 0.20)
	require.NoError(t, env.engine.Pin(ctx, result.ID, true))

	for i := 0; i < 5; i++ {
		report, err := env.engine.Decay(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Protected)
		assert.Empty(t, report.Actions)
	}

	record, err := env.engine.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.20, record.Confidence)
	assert.True(t, record.Pinned)
}

func TestEngine_DecayOptions(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	_, err := env.engine.Add(ctx, "Recycling goes out on Thursday")
	require.NoError(t, err)
	env.clock.Advance(2 * 24 * time.Hour)

	report, err := env.engine.Decay(ctx, core.WithDryRun(true), core.WithAgeDays(1), core.WithThreshold(0.95))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.AgeDays)
	assert.Equal(t, 0.95, report.Threshold)

	_, err = env.engine.Decay(ctx, core.WithAgeDays(-1))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
