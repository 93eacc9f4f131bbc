package core

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/oceanbase/localmem-go/pkg/embedder"
	ollamaembedder "github.com/oceanbase/localmem-go/pkg/embedder/ollama"
	openaiembedder "github.com/oceanbase/localmem-go/pkg/embedder/openai"
	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/llm"
	"github.com/oceanbase/localmem-go/pkg/llm/anthropic"
	ollamallm "github.com/oceanbase/localmem-go/pkg/llm/ollama"
	openaillm "github.com/oceanbase/localmem-go/pkg/llm/openai"
	"github.com/oceanbase/localmem-go/pkg/lock"
	"github.com/oceanbase/localmem-go/pkg/metrics"
	"github.com/oceanbase/localmem-go/pkg/retry"
	"github.com/oceanbase/localmem-go/pkg/storage"
	"github.com/oceanbase/localmem-go/pkg/storage/chromem"
	"github.com/oceanbase/localmem-go/pkg/storage/fts"
	"github.com/oceanbase/localmem-go/pkg/storage/oceanbase"
	"github.com/oceanbase/localmem-go/pkg/storage/postgres"
	"github.com/oceanbase/localmem-go/pkg/storage/sqlite"
)

// defaultCollection is the collection name of a workspace's vector index.
const defaultCollection = "semantic_memory"

// Engine is the memory engine of one workspace.
//
// It owns the vector index, the keyword index and the workspace lock. Every mutation
// of the indexes runs under the lock, so several processes can share a workspace.
//
// Example usage:
//
//	engine, err := core.Open(ctx, core.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	result, err := engine.Add(ctx, "User prefers dark mode")
//	resp, err := engine.Search(ctx, "theme preference", core.WithLimit(5))
type Engine struct {
	config *Config
	policy Policy

	layout  Layout
	agentID string

	embedder embedder.Provider
	index    storage.VectorIndex
	fts      *fts.Store
	lock     *lock.Workspace
	llm      llm.Provider

	dedup    *intelligence.DedupManager
	intent   *intelligence.IntentClassifier
	reranker *intelligence.Reranker

	effects SideEffects
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	ids     *snowflake.Node
}

// Open opens the workspace selected by config and returns its engine.
//
// Open resolves the workspace and agent, builds the embedding provider and checks it
// with a test embedding, then opens the vector index, the keyword index and the
// workspace lock. A provider that fails the self-test is reported as ErrBackendUnavailable.
//
// Parameters:
//   - ctx: Context for the embedding self-test and index connections
//   - config: Engine configuration, see DefaultConfig
//   - opts: Collaborators that replace the ones built from config
//
// Returns the engine, or an error wrapped in MemoryError.
func Open(ctx context.Context, config *Config, opts ...Option) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.embedder == nil || o.index == nil {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}
	policy := config.Policy.withDefaults()
	if err := policy.Validate(); err != nil {
		return nil, NewMemoryError("Open", err)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := o.now
	if now == nil {
		now = time.Now
	}

	root, err := ResolveWorkspace(config.Workspace, config.Shared)
	if err != nil {
		return nil, err
	}
	layout := NewLayout(root)
	agentID := config.AgentID
	if agentID == "" {
		agentID = DetectAgentID(root)
	}

	node, err := snowflake.NewNode(int64(os.Getpid() % 1024))
	if err != nil {
		return nil, NewMemoryError("Open", err)
	}

	e := &Engine{
		config:  config,
		policy:  policy,
		layout:  layout,
		agentID: agentID,
		logger:  logger,
		metrics: o.metrics,
		now:     now,
		ids:     node,
	}

	e.embedder = o.embedder
	if e.embedder == nil {
		if e.embedder, err = initEmbedder(config.Embedder); err != nil {
			return nil, NewMemoryError("Open", unavailable(ErrEmbeddingFailed, err))
		}
	}
	dims, err := embedder.SelfTest(ctx, e.embedder)
	if err != nil {
		_ = e.embedder.Close()
		return nil, NewMemoryError("Open", unavailable(ErrEmbeddingFailed, err))
	}

	e.index = o.index
	if e.index == nil {
		if e.index, err = initVectorIndex(config.VectorStore, layout, dims); err != nil {
			_ = e.embedder.Close()
			return nil, NewMemoryError("Open", unavailable(ErrStorageOperation, err))
		}
	}

	if e.fts, err = fts.Open(layout.FTSPath); err != nil {
		_ = e.Close()
		return nil, NewMemoryError("Open", unavailable(ErrStorageOperation, err))
	}
	if e.lock, err = lock.New(layout.LockPath, policy.LockTimeout); err != nil {
		_ = e.Close()
		return nil, NewMemoryError("Open", err)
	}

	e.llm = o.rerankModel
	if e.llm == nil && config.LLM.Provider != "" {
		if e.llm, err = initLLM(config.LLM); err != nil {
			_ = e.Close()
			return nil, NewMemoryError("Open", fmt.Errorf("%w: %w", ErrLLMOperation, err))
		}
	}

	e.dedup = intelligence.NewDedupManager(e.index, policy.NearDuplicateThreshold, policy.NearDuplicateWarn, policy.NeighbourCount)
	e.intent = intelligence.NewIntentClassifier()
	e.reranker = intelligence.NewReranker(e.llm)

	e.effects = o.effects
	if e.effects == nil {
		e.effects = &indexSideEffects{index: e.index, logger: logger, withLock: e.withLock}
	}

	logger.Debug("workspace opened",
		zap.String("workspace", layout.Root),
		zap.String("agent_id", agentID),
		zap.Int("dimensions", dims),
	)
	return e, nil
}

// initEmbedder creates the embedding provider named by cfg.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollamaembedder.NewClient(&ollamaembedder.Config{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "openai":
		return openaiembedder.NewClient(&openaiembedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}

// initVectorIndex creates the vector index named by cfg.
//
// The chromem and sqlite stores live inside the workspace layout.
func initVectorIndex(cfg VectorStoreConfig, layout Layout, dims int) (storage.VectorIndex, error) {
	collection := cfg.CollectionName
	if collection == "" {
		collection = defaultCollection
	}

	switch cfg.Provider {
	case "chromem":
		return chromem.NewClient(&chromem.Config{
			Path:           layout.VectorDir,
			CollectionName: collection,
			Compress:       cfg.Compress,
		})
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{
			DBPath:         layout.VectorDBPath,
			CollectionName: collection,
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:               cfg.Host,
			Port:               cfg.Port,
			User:               cfg.User,
			Password:           cfg.Password,
			DBName:             cfg.DBName,
			CollectionName:     collection,
			EmbeddingModelDims: dims,
			SSLMode:            cfg.SSLMode,
		})
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:               cfg.Host,
			Port:               cfg.Port,
			User:               cfg.User,
			Password:           cfg.Password,
			DBName:             cfg.DBName,
			CollectionName:     collection,
			EmbeddingModelDims: dims,
			HNSW:               true,
		})
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}

// initLLM creates the rerank model named by cfg.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaillm.NewClient(&openaillm.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		return ollamallm.NewClient(&ollamallm.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		return anthropic.NewClient(&anthropic.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// Workspace returns the absolute workspace path.
func (e *Engine) Workspace() string {
	return e.layout.Root
}

// AgentID returns the agent this engine writes as.
func (e *Engine) AgentID() string {
	return e.agentID
}

// Layout returns the on-disk layout of the workspace.
func (e *Engine) Layout() Layout {
	return e.layout
}

// Policy returns the effective policy constants.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Add stores text as a new memory.
//
// With the default Strict policy Add first checks for an exact duplicate by content
// hash, then for a near-duplicate by embedding similarity. A duplicate is not an error:
// the result carries the existing ID and the outcome. Neighbours in the warning band
// are returned as warnings and do not block insertion.
//
// Parameters:
//   - ctx: Context for cancellation
//   - text: The fact to remember; surrounding whitespace is trimmed
//   - opts: Category, extra metadata and insertion policy
//
// Returns the AddResult, or an error wrapped in MemoryError.
func (e *Engine) Add(ctx context.Context, text string, opts ...AddOption) (result *AddResult, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("add", started, err) }()

	result, err = e.add(ctx, text, applyAddOptions(opts))
	if err != nil {
		return nil, NewMemoryError("Add", err)
	}
	return result, nil
}

func (e *Engine) add(ctx context.Context, text string, options *AddOptions) (*AddResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	hash := intelligence.ContentHash(text)

	if options.Policy == Strict {
		existing, err := e.fts.LookupHash(ctx, hash)
		if err != nil {
			return nil, unavailable(ErrStorageOperation, err)
		}
		if existing != "" {
			e.metrics.RecordInsert(metrics.OutcomeExactDuplicate)
			return &AddResult{ID: existing, Outcome: OutcomeExactDuplicate, Similarity: 1}, nil
		}
	}

	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, unavailable(ErrEmbeddingFailed, err)
	}

	result := &AddResult{Outcome: OutcomeInserted}
	var record *MemoryRecord
	err = e.withLock(ctx, func() error {
		if options.Policy == Strict {
			found, err := e.checkDuplicatesLocked(ctx, hash, embedding, result)
			if err != nil || found {
				return err
			}
		}
		record = e.newRecord(text, hash, options)
		return e.insertLocked(ctx, record, embedding)
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return result, nil
	}

	e.metrics.RecordInsert(metrics.OutcomeInserted)
	e.logger.Debug("memory added",
		zap.String("id", record.ID),
		zap.String("category", record.Category),
	)
	result.ID = record.ID
	return result, nil
}

// checkDuplicatesLocked runs the exact and near duplicate gates against the state
// seen under the workspace lock, so concurrent adds of one fact insert it once.
// It reports whether result now names an existing memory. The caller must hold
// the workspace lock.
func (e *Engine) checkDuplicatesLocked(ctx context.Context, hash string, embedding []float64, result *AddResult) (bool, error) {
	existing, err := e.fts.LookupHash(ctx, hash)
	if err != nil {
		return false, unavailable(ErrStorageOperation, err)
	}
	if existing != "" {
		e.metrics.RecordInsert(metrics.OutcomeExactDuplicate)
		result.ID = existing
		result.Outcome = OutcomeExactDuplicate
		result.Similarity = 1
		return true, nil
	}

	dup, err := e.dedup.CheckDuplicate(ctx, embedding)
	if err != nil {
		return false, unavailable(ErrStorageOperation, err)
	}
	for _, n := range dup.Similar {
		e.warn(ctx, &result.Warnings, Warning{
			Kind:       WarnNearDuplicate,
			Message:    "similar memory exists",
			IDs:        []string{n.ID},
			Similarity: n.Similarity,
		})
	}
	if dup.IsDuplicate() {
		e.metrics.RecordInsert(metrics.OutcomeNearDuplicate)
		result.ID = dup.Duplicate.ID
		result.Outcome = OutcomeNearDuplicate
		result.Similarity = dup.Duplicate.Similarity
		return true, nil
	}
	return false, nil
}

// newRecord builds a fresh record for text.
func (e *Engine) newRecord(text, hash string, options *AddOptions) *MemoryRecord {
	created := e.now().UTC()
	sum := md5.Sum([]byte(text + ":" + options.Category + ":" + formatTime(created)))

	return &MemoryRecord{
		ID:           hex.EncodeToString(sum[:]),
		Text:         text,
		Category:     options.Category,
		ContentHash:  hash,
		Confidence:   1.0,
		LastAccessed: created,
		CreatedAt:    created,
		Workspace:    e.layout.Name(),
		AgentID:      e.agentID,
		Seq:          e.ids.Generate().Int64(),
		Extra:        options.Extra,
		Correction:   options.correction,
		Lesson:       options.lesson,
	}
}

// insertLocked writes record to both indexes, retrying transient failures. If the
// keyword index cannot be written the vector entry is rolled back, so a record is
// never half-inserted. The caller must hold the workspace lock.
func (e *Engine) insertLocked(ctx context.Context, record *MemoryRecord, embedding []float64) error {
	doc := toDocument(record, embedding)
	entry := &fts.Entry{
		ID:          record.ID,
		Text:        record.Text,
		ContentHash: record.ContentHash,
		Category:    record.Category,
		Seq:         record.Seq,
		CreatedAt:   record.CreatedAt,
	}

	indexed := false
	err := retry.Do(ctx, e.retryPolicy(), func() error {
		if !indexed {
			if err := e.index.Add(ctx, doc); err != nil {
				e.logger.Debug("vector index write failed", zap.String("id", record.ID), zap.Error(err))
				return retryable(err)
			}
			indexed = true
		}
		if err := e.fts.Insert(ctx, entry); err != nil {
			e.logger.Debug("keyword index write failed", zap.String("id", record.ID), zap.Error(err))
			return retryable(err)
		}
		return nil
	})
	if err != nil {
		if indexed {
			if rbErr := e.index.Delete(context.WithoutCancel(ctx), []string{record.ID}); rbErr != nil {
				e.logger.Error("rollback of vector entry failed", zap.String("id", record.ID), zap.Error(rbErr))
			}
		}
		return unavailable(ErrStorageOperation, err)
	}
	return nil
}

// retryable stops the retry loop for writes abandoned by the caller.
func retryable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}
	return err
}

func (e *Engine) retryPolicy() retry.Policy {
	return retry.Policy{MaxRetries: e.policy.RetryMax, InitialInterval: e.policy.RetryInitialInterval}
}

// withLock runs fn holding the workspace lock.
func (e *Engine) withLock(ctx context.Context, fn func() error) error {
	started := time.Now()
	err := e.lock.With(ctx, func() error {
		e.metrics.RecordLockWait(time.Since(started))
		return fn()
	})
	if errors.Is(err, lock.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}

// warn records w on the operation's warnings and reports it to the side effects.
func (e *Engine) warn(ctx context.Context, warnings *[]Warning, w Warning) {
	*warnings = append(*warnings, w)
	e.effects.Warn(ctx, w)
	e.metrics.RecordWarning(string(w.Kind))
}

// Get retrieves a memory by its ID.
//
// Returns ErrNotFound if the memory does not exist.
func (e *Engine) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	record, err := e.get(ctx, id)
	if err != nil {
		return nil, NewMemoryError("Get", err)
	}
	return record, nil
}

func (e *Engine) get(ctx context.Context, id string) (*MemoryRecord, error) {
	docs, err := e.index.Get(ctx, []string{id})
	if err != nil {
		return nil, unavailable(ErrStorageOperation, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromDocument(docs[0]), nil
}

// Delete removes a memory from both indexes.
//
// Returns ErrNotFound if neither index holds the ID.
func (e *Engine) Delete(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("delete", started, err) }()

	err = e.withLock(ctx, func() error {
		docs, err := e.index.Get(ctx, []string{id})
		if err != nil {
			return unavailable(ErrStorageOperation, err)
		}
		inLedger, err := e.fts.Has(ctx, id)
		if err != nil {
			return unavailable(ErrStorageOperation, err)
		}
		if len(docs) == 0 && !inLedger {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return e.deleteLocked(ctx, []string{id})
	})
	return NewMemoryError("Delete", err)
}

// deleteLocked removes ids from both indexes. The caller must hold the workspace lock.
func (e *Engine) deleteLocked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.index.Delete(ctx, ids); err != nil {
		return unavailable(ErrStorageOperation, err)
	}
	if err := e.fts.Delete(ctx, ids); err != nil {
		return unavailable(ErrStorageOperation, err)
	}
	return nil
}

// ClearCategory deletes every memory in category and returns how many were deleted.
func (e *Engine) ClearCategory(ctx context.Context, category string) (n int, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("clear", started, err) }()

	if category == "" {
		return 0, NewMemoryError("ClearCategory", fmt.Errorf("%w: category is empty", ErrInvalidInput))
	}
	err = e.withLock(ctx, func() error {
		ids, err := e.fts.IDs(ctx, category)
		if err != nil {
			return unavailable(ErrStorageOperation, err)
		}
		if err := e.deleteLocked(ctx, ids); err != nil {
			return err
		}
		n = len(ids)
		return nil
	})
	if err != nil {
		return 0, NewMemoryError("ClearCategory", err)
	}
	e.logger.Info("category cleared", zap.String("category", category), zap.Int("deleted", n))
	return n, nil
}

// Pin sets or clears the pinned flag of a memory. Pinned memories never decay.
//
// Returns ErrNotFound if the memory does not exist.
func (e *Engine) Pin(ctx context.Context, id string, pinned bool) (err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("pin", started, err) }()

	err = e.withLock(ctx, func() error {
		record, err := e.get(ctx, id)
		if err != nil {
			return err
		}
		record.Pinned = pinned
		if err := e.index.Update(ctx, id, toMetadata(record)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return unavailable(ErrStorageOperation, err)
		}
		return nil
	})
	return NewMemoryError("Pin", err)
}

// records returns every memory of the workspace in creation order.
//
// The keyword ledger is the enumeration source; IDs the vector index no longer
// holds are skipped.
func (e *Engine) records(ctx context.Context) ([]*MemoryRecord, error) {
	ids, err := e.fts.IDs(ctx, "")
	if err != nil {
		return nil, unavailable(ErrStorageOperation, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := e.index.Get(ctx, ids)
	if err != nil {
		return nil, unavailable(ErrStorageOperation, err)
	}
	return fromDocuments(docs), nil
}

// Stats summarizes the workspace.
func (e *Engine) Stats(ctx context.Context) (stats *Stats, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("stats", started, err) }()

	stats, err = e.stats(ctx)
	if err != nil {
		return nil, NewMemoryError("Stats", err)
	}
	return stats, nil
}

func (e *Engine) stats(ctx context.Context) (*Stats, error) {
	total, err := e.index.Count(ctx)
	if err != nil {
		return nil, unavailable(ErrStorageOperation, err)
	}
	indexed, err := e.fts.Count(ctx)
	if err != nil {
		return nil, unavailable(ErrStorageOperation, err)
	}
	records, err := e.records(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:            total,
		FTSIndexed:       indexed,
		ByCategory:       make(map[string]int),
		ByWorkspace:      make(map[string]int),
		ByAgent:          make(map[string]int),
		CurrentWorkspace: e.layout.Root,
		CurrentAgent:     e.agentID,
		FTSDBPath:        e.layout.FTSPath,
		IsShared:         e.layout.Name() == SharedWorkspaceName,
	}
	switch e.config.VectorStore.Provider {
	case "sqlite":
		stats.VectorDBPath = e.layout.VectorDBPath
	case "postgres", "oceanbase":
		stats.VectorDBPath = fmt.Sprintf("%s://%s:%d/%s", e.config.VectorStore.Provider,
			e.config.VectorStore.Host, e.config.VectorStore.Port, e.config.VectorStore.DBName)
	default:
		stats.VectorDBPath = e.layout.VectorDir
	}

	cutoff := e.now().Add(-time.Duration(e.policy.DecayAgeDays) * 24 * time.Hour)
	var confidenceSum float64
	for _, r := range records {
		stats.ByCategory[r.Category]++
		stats.ByWorkspace[r.Workspace]++
		stats.ByAgent[r.AgentID]++
		confidenceSum += r.Confidence
		if r.Pinned {
			stats.Pinned++
		} else if last := r.lastTouched(); !last.IsZero() && last.Before(cutoff) {
			stats.DecayEligible++
		}
		if r.IsRetracted() {
			stats.Retracted++
		}
		if r.Correction != nil {
			stats.Corrections++
		}
		if r.IsLesson() {
			stats.Lessons++
		}
	}
	if len(records) > 0 {
		stats.AvgConfidence = math.Round(confidenceSum/float64(len(records))*1000) / 1000
	}
	return stats, nil
}

// Close releases the indexes and providers held by the engine.
func (e *Engine) Close() error {
	var errs []error
	if e.index != nil {
		errs = append(errs, e.index.Close())
	}
	if e.fts != nil {
		errs = append(errs, e.fts.Close())
	}
	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	if e.llm != nil {
		errs = append(errs, e.llm.Close())
	}
	return NewMemoryError("Close", errors.Join(errs...))
}
