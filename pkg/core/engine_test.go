package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/core"
	"github.com/oceanbase/localmem-go/pkg/embedder/fake"
	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/lock"
	"github.com/oceanbase/localmem-go/pkg/metrics"
	"github.com/oceanbase/localmem-go/pkg/storage/chromem"
)

func TestEngine_Open(t *testing.T) {
	env := setupEngineTest(t)

	assert.Equal(t, env.config.Workspace, env.engine.Workspace())
	assert.Equal(t, "tester", env.engine.AgentID())
	assert.Equal(t, core.DefaultPolicy().RRFK, env.engine.Policy().RRFK)
	assert.FileExists(t, env.engine.Layout().FTSPath)
}

func TestEngine_OpenEmbedderUnavailable(t *testing.T) {
	emb := fake.New(testDims)
	emb.Fail(errors.New("connection refused"))
	index, err := chromem.NewClient(&chromem.Config{})
	require.NoError(t, err)

	config := core.DefaultConfig()
	config.Workspace = t.TempDir()
	_, err = core.Open(context.Background(), config, core.WithEmbedder(emb), core.WithVectorIndex(index))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackendUnavailable)
	assert.ErrorIs(t, err, core.ErrEmbeddingFailed)
}

func TestEngine_AddIsIdempotent(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	first, err := env.engine.Add(ctx, "User prefers dark mode", core.WithCategory("preference"))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeInserted, first.Outcome)

	calls := env.embedder.Calls()
	second, err := env.engine.Add(ctx, "  user prefers DARK mode ", core.WithCategory("preference"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, core.OutcomeExactDuplicate, second.Outcome)
	assert.Equal(t, calls, env.embedder.Calls(), "an exact duplicate must not be embedded")

	stats, err := env.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.FTSIndexed)
}

func TestEngine_AddEmptyText(t *testing.T) {
	env := setupEngineTest(t)

	_, err := env.engine.Add(context.Background(), "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestEngine_AddRecordFields(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	result, err := env.engine.Add(ctx, "Dentist appointment is on Friday",
		core.WithExtra(map[string]string{"source": "chat", "confidence": "0.1"}))
	require.NoError(t, err)

	record, err := env.engine.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.Len(t, record.ID, 32)
	assert.Equal(t, core.DefaultCategory, record.Category)
	assert.Equal(t, intelligence.ContentHash("Dentist appointment is on Friday"), record.ContentHash)
	assert.Equal(t, 1.0, record.Confidence, "extra metadata cannot override reserved fields")
	assert.Equal(t, 0, record.AccessCount)
	assert.True(t, record.LastAccessed.Equal(record.CreatedAt))
	assert.Equal(t, "tester", record.AgentID)
	assert.Equal(t, env.engine.Layout().Name(), record.Workspace)
	assert.Equal(t, map[string]string{"source": "chat"}, record.Extra)
	assert.NotZero(t, record.Seq)
	assert.False(t, record.IsRetracted())
}

func TestEngine_NearDuplicateAbsorbed(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	env.embedder.Set("The office is on the fifth floor", unit(1))
	env.embedder.Set("Our office is located on floor five", nearUnit(0.97))

	first, err := env.engine.Add(ctx, "The office is on the fifth floor")
	require.NoError(t, err)

	second, err := env.engine.Add(ctx, "Our office is located on floor five")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, core.OutcomeNearDuplicate, second.Outcome)
	assert.InDelta(t, 0.97, second.Similarity, 1e-3)

	count, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_NearDuplicateWarningBand(t *testing.T) {
	effects := &recorder{}
	env := setupEngineTest(t, core.WithSideEffects(effects))
	ctx := context.Background()

	env.embedder.Set("Coffee is best black", unit(1))
	env.embedder.Set("Coffee is best with milk", nearUnit(0.90))

	first, err := env.engine.Add(ctx, "Coffee is best black")
	require.NoError(t, err)
	second, err := env.engine.Add(ctx, "Coffee is best with milk")
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeInserted, second.Outcome)
	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, second.Warnings, 1)
	assert.Equal(t, core.WarnNearDuplicate, second.Warnings[0].Kind)
	assert.Equal(t, []string{first.ID}, second.Warnings[0].IDs)
	assert.InDelta(t, 0.90, second.Warnings[0].Similarity, 1e-3)
	assert.Len(t, effects.warnings, 1)
}

func TestEngine_ForcedSkipsDuplicateChecks(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	first, err := env.engine.Add(ctx, "Standup is at nine")
	require.NoError(t, err)
	second, err := env.engine.Add(ctx, "Standup is at nine", core.WithPolicy(core.Forced))
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeInserted, second.Outcome)
	assert.NotEqual(t, first.ID, second.ID)

	count, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEngine_AddRetriesTransientFailures(t *testing.T) {
	base, err := chromem.NewClient(&chromem.Config{})
	require.NoError(t, err)
	index := &flakyIndex{VectorIndex: base, failAdds: 2}
	env := openEngine(t, index)
	ctx := context.Background()

	result, err := env.engine.Add(ctx, "Build server runs on port 8080")
	require.NoError(t, err)
	assert.Equal(t, 3, index.adds)

	_, err = env.engine.Get(ctx, result.ID)
	assert.NoError(t, err)
}

func TestEngine_AddFailsAfterRetries(t *testing.T) {
	base, err := chromem.NewClient(&chromem.Config{})
	require.NoError(t, err)
	index := &flakyIndex{VectorIndex: base, failAdds: -1}
	env := openEngine(t, index)
	ctx := context.Background()

	_, err = env.engine.Add(ctx, "This write never lands")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackendUnavailable)
	assert.Equal(t, 1+core.DefaultPolicy().RetryMax, index.adds)

	stats, err := env.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.FTSIndexed)
}

func TestEngine_AddDoesNotRetryCanceledWrites(t *testing.T) {
	base, err := chromem.NewClient(&chromem.Config{})
	require.NoError(t, err)
	index := &flakyIndex{VectorIndex: base, failAdds: -1, err: context.Canceled}
	env := openEngine(t, index)
	ctx := context.Background()

	_, err = env.engine.Add(ctx, "Abandoned before it was written")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, index.adds)
}

func TestEngine_ConcurrentAddsInsertOnce(t *testing.T) {
	tests := []struct {
		name    string
		texts   [2]string
		vectors [2][]float64
		outcome core.AddOutcome
	}{
		{
			name:    "same text",
			texts:   [2]string{"Standup moved to 10am", "Standup moved to 10am"},
			outcome: core.OutcomeExactDuplicate,
		},
		{
			name:    "near duplicate text",
			texts:   [2]string{"Standup moved to 10am", "The standup now starts at 10am"},
			vectors: [2][]float64{unit(1), nearUnit(0.97)},
			outcome: core.OutcomeNearDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &gateEmbedder{Embedder: fake.New(testDims)}
			for i, vec := range tt.vectors {
				emb.Set(tt.texts[i], vec)
			}
			env := setupEngineTest(t, core.WithEmbedder(emb))
			emb.arm(2)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var wg sync.WaitGroup
			results := make([]*core.AddResult, 2)
			errs := make([]error, 2)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = env.engine.Add(ctx, tt.texts[i], core.WithCategory("work"))
				}(i)
			}
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])
			assert.Equal(t, results[0].ID, results[1].ID)
			assert.ElementsMatch(t,
				[]core.AddOutcome{core.OutcomeInserted, tt.outcome},
				[]core.AddOutcome{results[0].Outcome, results[1].Outcome})

			stats, err := env.engine.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Total)
			assert.Equal(t, 1, stats.FTSIndexed)
		})
	}
}

func TestEngine_AddLockTimeout(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	holder, err := lock.New(env.engine.Layout().LockPath, time.Second)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire(ctx))
	defer func() { _ = holder.Release() }()

	_, err = env.engine.Add(ctx, "Blocked by another process")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLockTimeout)
}

func TestEngine_Delete(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	result, err := env.engine.Add(ctx, "Temporary note")
	require.NoError(t, err)

	require.NoError(t, env.engine.Delete(ctx, result.ID))
	_, err = env.engine.Get(ctx, result.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = env.engine.Delete(ctx, result.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// The hash ledger is cleared too, so the text can be stored again.
	again, err := env.engine.Add(ctx, "Temporary note")
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeInserted, again.Outcome)
}

func TestEngine_ClearCategory(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.engine.Add(ctx, fmt.Sprintf("scratch item %d", i), core.WithCategory("scratch"))
		require.NoError(t, err)
	}
	kept, err := env.engine.Add(ctx, "Keep this one")
	require.NoError(t, err)

	n, err := env.engine.ClearCategory(ctx, "scratch")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := env.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, map[string]int{core.DefaultCategory: 1}, stats.ByCategory)

	_, err = env.engine.Get(ctx, kept.ID)
	assert.NoError(t, err)

	_, err = env.engine.ClearCategory(ctx, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestEngine_Pin(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	result, err := env.engine.Add(ctx, "Wifi password is on the fridge")
	require.NoError(t, err)

	require.NoError(t, env.engine.Pin(ctx, result.ID, true))
	record, err := env.engine.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.True(t, record.Pinned)

	require.NoError(t, env.engine.Pin(ctx, result.ID, false))
	record, err = env.engine.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.False(t, record.Pinned)

	assert.ErrorIs(t, env.engine.Pin(ctx, "missing", true), core.ErrNotFound)
}

func TestEngine_Stats(t *testing.T) {
	env := setupEngineTest(t)
	ctx := context.Background()

	a, err := env.engine.Add(ctx, "Sister lives in Lisbon", core.WithCategory("family"))
	require.NoError(t, err)
	_, err = env.engine.Add(ctx, "Prefers tea over coffee", core.WithCategory("preference"))
	require.NoError(t, err)
	_, err = env.engine.Lesson(ctx, "Check the timezone before scheduling", "booked a call at 3am", "")
	require.NoError(t, err)
	require.NoError(t, env.engine.Pin(ctx, a.ID, true))

	env.clock.Advance(31 * 24 * time.Hour)

	stats, err := env.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.FTSIndexed)
	assert.Equal(t, map[string]int{"family": 1, "preference": 1, core.LessonCategory: 1}, stats.ByCategory)
	assert.Equal(t, map[string]int{"tester": 3}, stats.ByAgent)
	assert.Equal(t, 1.0, stats.AvgConfidence)
	assert.Equal(t, 1, stats.Pinned)
	assert.Equal(t, 2, stats.DecayEligible)
	assert.Equal(t, 1, stats.Lessons)
	assert.Equal(t, env.engine.Workspace(), stats.CurrentWorkspace)
	assert.Equal(t, env.engine.Layout().FTSPath, stats.FTSDBPath)
	assert.False(t, stats.IsShared)
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := setupEngineTest(t, core.WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	_, err := env.engine.Add(ctx, "Metrics are recorded")
	require.NoError(t, err)
	_, err = env.engine.Add(ctx, "Metrics are recorded")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "localmem_add_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome")

	count, err = testutil.GatherAndCount(reg, "localmem_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
