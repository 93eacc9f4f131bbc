package core_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/core"
	"github.com/oceanbase/localmem-go/pkg/embedder/fake"
	"github.com/oceanbase/localmem-go/pkg/storage"
	"github.com/oceanbase/localmem-go/pkg/storage/chromem"
)

const testDims = 64

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures side effects. Touch is applied to the records it is given.
type recorder struct {
	mu       sync.Mutex
	warnings []core.Warning
	touched  []string
	touchErr error
}

func (r *recorder) Touch(_ context.Context, records []*core.MemoryRecord, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return r.touchErr
	}
	for _, rec := range records {
		r.touched = append(r.touched, rec.ID)
	}
	return nil
}

func (r *recorder) Warn(_ context.Context, w core.Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
}

// flakyIndex fails the first failAdds calls to Add, or every call when failAdds is -1.
// Failures return err, or a transient error when err is nil.
type flakyIndex struct {
	storage.VectorIndex

	mu       sync.Mutex
	failAdds int
	adds     int
	err      error
}

func (f *flakyIndex) Add(ctx context.Context, doc *storage.Document) error {
	f.mu.Lock()
	f.adds++
	fail := f.failAdds != 0
	if f.failAdds > 0 {
		f.failAdds--
	}
	f.mu.Unlock()
	if fail {
		if f.err != nil {
			return f.err
		}
		return errors.New("transient index failure")
	}
	return f.VectorIndex.Add(ctx, doc)
}

// gateEmbedder holds Embed calls once armed until parties callers are waiting,
// then releases them together.
type gateEmbedder struct {
	*fake.Embedder

	mu      sync.Mutex
	parties int
	waiting int
	release chan struct{}
}

func (g *gateEmbedder) arm(parties int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.parties = parties
	g.waiting = 0
	g.release = make(chan struct{})
}

func (g *gateEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	g.mu.Lock()
	release := g.release
	if release != nil {
		g.waiting++
		if g.waiting == g.parties {
			close(release)
			g.release = nil
		}
	}
	g.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Embedder.Embed(ctx, text)
}

// hookIndex runs a function once, just before the next metadata update is applied.
type hookIndex struct {
	storage.VectorIndex

	mu     sync.Mutex
	before func()
}

func (h *hookIndex) onNextUpdate(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = fn
}

func (h *hookIndex) Update(ctx context.Context, id string, metadata map[string]string) error {
	h.mu.Lock()
	fn := h.before
	h.before = nil
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return h.VectorIndex.Update(ctx, id, metadata)
}

type testEnv struct {
	engine   *core.Engine
	embedder *fake.Embedder
	index    storage.VectorIndex
	clock    *clock
	config   *core.Config
}

// setupEngineTest opens an engine on a temporary workspace with an offline embedder
// and an in-memory vector index.
func setupEngineTest(t *testing.T, opts ...core.Option) *testEnv {
	t.Helper()

	index, err := chromem.NewClient(&chromem.Config{})
	require.NoError(t, err)
	return openEngine(t, index, opts...)
}

func openEngine(t *testing.T, index storage.VectorIndex, opts ...core.Option) *testEnv {
	t.Helper()

	env := &testEnv{
		embedder: fake.New(testDims),
		index:    index,
		clock:    newClock(),
	}

	env.config = core.DefaultConfig()
	env.config.Workspace = t.TempDir()
	env.config.AgentID = "tester"
	env.config.Policy.RetryInitialInterval = time.Millisecond
	env.config.Policy.LockTimeout = 200 * time.Millisecond

	all := append([]core.Option{
		core.WithEmbedder(env.embedder),
		core.WithVectorIndex(index),
		core.WithClock(env.clock.Now),
	}, opts...)

	var err error
	env.engine, err = core.Open(context.Background(), env.config, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.engine.Close() })
	return env
}

// unit returns a testDims vector with the given leading components.
func unit(values ...float64) []float64 {
	vec := make([]float64, testDims)
	copy(vec, values)
	return vec
}

// nearUnit returns a unit vector whose cosine similarity to unit(1) is sim.
func nearUnit(sim float64) []float64 {
	return unit(sim, math.Sqrt(1-sim*sim))
}
