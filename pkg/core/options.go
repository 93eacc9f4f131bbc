package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/localmem-go/pkg/embedder"
	"github.com/oceanbase/localmem-go/pkg/llm"
	"github.com/oceanbase/localmem-go/pkg/metrics"
	"github.com/oceanbase/localmem-go/pkg/storage"
)

// Option configures an Engine at Open.
//
// Options override the collaborators Open would otherwise build from Config,
// which is how tests inject fakes.
type Option func(*engineOptions)

type engineOptions struct {
	logger      *zap.Logger
	metrics     *metrics.Collector
	effects     SideEffects
	embedder    embedder.Provider
	index       storage.VectorIndex
	rerankModel llm.Provider
	now         func() time.Time
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the Prometheus collector. The default records nothing.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *engineOptions) {
		o.metrics = c
	}
}

// WithSideEffects replaces the default side effects, which persist touches to the
// vector index and log warnings.
//
// Example:
//
//	engine, _ := core.Open(ctx, cfg, core.WithSideEffects(core.NopSideEffects{}))
func WithSideEffects(effects SideEffects) Option {
	return func(o *engineOptions) {
		o.effects = effects
	}
}

// WithEmbedder sets the embedding provider instead of building one from Config.
func WithEmbedder(p embedder.Provider) Option {
	return func(o *engineOptions) {
		o.embedder = p
	}
}

// WithVectorIndex sets the vector index instead of building one from Config.
func WithVectorIndex(index storage.VectorIndex) Option {
	return func(o *engineOptions) {
		o.index = index
	}
}

// WithRerankModel sets the LLM used by reranking instead of building one from Config.
func WithRerankModel(p llm.Provider) Option {
	return func(o *engineOptions) {
		o.rerankModel = p
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		o.now = now
	}
}

// AddOption is a function type for configuring Add operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type AddOption func(*AddOptions)

// AddOptions contains configuration options for Add operations.
type AddOptions struct {
	// Category partitions the memory. Default: "general"
	Category string

	// Extra is caller-supplied metadata stored with the memory.
	Extra map[string]string

	// Policy selects whether duplicate checks run. Default: Strict
	Policy InsertionPolicy

	// correction and lesson are set by Correct and Lesson only.
	correction *Correction
	lesson     *Lesson
}

// WithCategory sets the category for Add operations.
//
// Example:
//
//	result, _ := engine.Add(ctx, "User prefers dark mode", core.WithCategory("preference"))
func WithCategory(category string) AddOption {
	return func(opts *AddOptions) {
		opts.Category = category
	}
}

// WithExtra sets additional metadata for Add operations.
//
// Reserved record fields cannot be overridden this way.
func WithExtra(extra map[string]string) AddOption {
	return func(opts *AddOptions) {
		opts.Extra = extra
	}
}

// WithPolicy sets the insertion policy for Add operations.
//
// Forced skips the exact and near-duplicate checks.
func WithPolicy(policy InsertionPolicy) AddOption {
	return func(opts *AddOptions) {
		opts.Policy = policy
	}
}

func withLesson(mistake string) AddOption {
	return func(opts *AddOptions) {
		opts.lesson = &Lesson{Mistake: mistake}
	}
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// Limit sets the maximum number of results to return.
	// Default: 5
	Limit int

	// Category restricts results to one category.
	Category string

	// IncludeRetracted keeps retracted memories, flagged, in the results.
	IncludeRetracted bool

	// Rerank asks the rerank model to refine the top of the results.
	Rerank bool

	// RerankTopN is how many leading results are rated. Default: policy RerankTopN
	RerankTopN int
}

// WithLimit sets the maximum number of results for Search operations.
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithSearchCategory restricts Search to one category.
func WithSearchCategory(category string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Category = category
	}
}

// WithIncludeRetracted includes retracted memories in Search results.
//
// Example:
//
//	resp, _ := engine.Search(ctx, "theme", core.WithIncludeRetracted(true))
//	for _, r := range resp.Results {
//	    if r.Retracted { ... }
//	}
func WithIncludeRetracted(include bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.IncludeRetracted = include
	}
}

// WithRerank enables LLM reranking for Search operations.
func WithRerank(rerank bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.Rerank = rerank
	}
}

// WithRerankTopN sets how many leading results are rated when reranking.
func WithRerankTopN(n int) SearchOption {
	return func(opts *SearchOptions) {
		opts.RerankTopN = n
	}
}

// DecayOption is a function type for configuring Decay operations.
type DecayOption func(*DecayOptions)

// DecayOptions contains configuration options for Decay operations.
type DecayOptions struct {
	// DryRun evaluates without mutating anything.
	DryRun bool

	// Threshold deletes memories whose new confidence falls below it.
	// Default: policy DecayThreshold (0.15)
	Threshold float64

	// AgeDays is how long a memory must go unaccessed to decay.
	// Default: policy DecayAgeDays (30)
	AgeDays int
}

// WithDryRun makes Decay report without mutating.
func WithDryRun(dryRun bool) DecayOption {
	return func(opts *DecayOptions) {
		opts.DryRun = dryRun
	}
}

// WithThreshold sets the deletion threshold for Decay operations.
func WithThreshold(threshold float64) DecayOption {
	return func(opts *DecayOptions) {
		opts.Threshold = threshold
	}
}

// WithAgeDays sets the staleness age for Decay operations.
func WithAgeDays(days int) DecayOption {
	return func(opts *DecayOptions) {
		opts.AgeDays = days
	}
}

// applyAddOptions applies Add options to create AddOptions.
func applyAddOptions(opts []AddOption) *AddOptions {
	options := &AddOptions{
		Category: DefaultCategory,
		Policy:   Strict,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Category == "" {
		options.Category = DefaultCategory
	}
	return options
}

// applySearchOptions applies Search options to create SearchOptions.
func applySearchOptions(opts []SearchOption, policy Policy) *SearchOptions {
	options := &SearchOptions{
		Limit:      5,
		RerankTopN: policy.RerankTopN,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}
	if options.RerankTopN <= 0 {
		options.RerankTopN = policy.RerankTopN
	}
	return options
}

// applyDecayOptions applies Decay options to create DecayOptions.
func applyDecayOptions(opts []DecayOption, policy Policy) *DecayOptions {
	options := &DecayOptions{
		Threshold: policy.DecayThreshold,
		AgeDays:   policy.DecayAgeDays,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
