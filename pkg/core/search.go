package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/storage"
	"github.com/oceanbase/localmem-go/pkg/storage/fts"
)

// keywordOnlyDistance is reported for results the vector query did not return.
const keywordOnlyDistance = 1.0

// Search finds the memories most relevant to query.
//
// The query is classified by intent, which sets the weights of a reciprocal rank
// fusion of a vector query and a keyword query. Retracted memories are dropped unless
// WithIncludeRetracted is given, in which case they are kept and flagged. With
// WithRerank the head of the ranking is refined by the rerank model; a failed rerank
// keeps the fused order and adds a warning. Returned memories have their access count
// and last access time updated on a best-effort basis.
//
// Parameters:
//   - ctx: Context for cancellation
//   - query: Natural language query
//   - opts: Limit, category filter, retracted handling and reranking
//
// Returns the SearchResponse, or an error wrapped in MemoryError when the query is
// empty or the embedding provider or vector index fails.
func (e *Engine) Search(ctx context.Context, query string, opts ...SearchOption) (resp *SearchResponse, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("search", started, err) }()

	resp, err = e.search(ctx, query, applySearchOptions(opts, e.policy))
	if err != nil {
		return nil, NewMemoryError("Search", err)
	}
	return resp, nil
}

func (e *Engine) search(ctx context.Context, query string, options *SearchOptions) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}

	intent := e.intent.Classify(query)
	resp := &SearchResponse{
		Results:       []*SearchResult{},
		Intent:        intent.Label,
		VectorWeight:  intent.VectorWeight,
		KeywordWeight: intent.KeywordWeight,
	}

	oversample := options.Limit * 3
	if options.IncludeRetracted {
		oversample = options.Limit * 2
	}

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, unavailable(ErrEmbeddingFailed, err)
	}

	var filters map[string]string
	if options.Category != "" {
		filters = map[string]string{keyCategory: options.Category}
	}

	var (
		wg         sync.WaitGroup
		matches    []*storage.Match
		vectorErr  error
		hits       []fts.Hit
		keywordErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		matches, vectorErr = e.index.Query(ctx, embedding, &storage.QueryOptions{Limit: oversample, Filters: filters})
	}()
	go func() {
		defer wg.Done()
		hits, keywordErr = e.fts.Query(ctx, query, oversample, options.Category)
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, unavailable(ErrStorageOperation, vectorErr)
	}
	if keywordErr != nil {
		if !errors.Is(keywordErr, fts.ErrMalformedQuery) {
			return nil, unavailable(ErrStorageOperation, keywordErr)
		}
		e.warn(ctx, &resp.Warnings, Warning{
			Kind:    WarnDegradedKeywordQuery,
			Message: "keyword query rejected, ranking by vector similarity only",
			Err:     fmt.Errorf("%w: %w", ErrDegradedKeywordQuery, keywordErr),
		})
		hits = nil
	}

	byID := make(map[string]*storage.Match, len(matches))
	vectorIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := byID[m.ID]; !ok {
			byID[m.ID] = m
			vectorIDs = append(vectorIDs, m.ID)
		}
	}

	var fused []intelligence.Fused
	if len(hits) == 0 {
		fused = intelligence.VectorOnly(vectorIDs, e.policy.RRFK)
	} else {
		keywordIDs := make([]string, len(hits))
		for i, h := range hits {
			keywordIDs[i] = h.ID
		}
		fused = intelligence.Fuse(vectorIDs, keywordIDs, intent, e.policy.RRFK)
	}

	records, err := e.resolve(ctx, fused, byID)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(fused))
	var retractedIDs []string
	for _, f := range fused {
		record, ok := records[f.ID]
		if !ok {
			continue
		}
		if record.IsRetracted() && !options.IncludeRetracted {
			retractedIDs = append(retractedIDs, record.ID)
			continue
		}
		distance := keywordOnlyDistance
		if m, ok := byID[f.ID]; ok {
			distance = m.Distance
		}
		results = append(results, &SearchResult{
			Record:      record,
			Score:       f.Score,
			FusedScore:  f.Score,
			VectorRank:  f.VectorRank,
			KeywordRank: f.KeywordRank,
			Distance:    distance,
			Retracted:   record.IsRetracted(),
			Rating:      -1,
		})
	}
	if len(retractedIDs) > 0 {
		resp.RetractedFiltered = len(retractedIDs)
		e.warn(ctx, &resp.Warnings, Warning{
			Kind:    WarnRetractedFiltered,
			Message: fmt.Sprintf("%d retracted memories filtered out", len(retractedIDs)),
			IDs:     retractedIDs,
		})
	}
	if len(results) > options.Limit {
		results = results[:options.Limit]
	}

	if options.Rerank && len(results) > 0 {
		results = e.rerank(ctx, query, results, options.RerankTopN, resp)
	}
	resp.Results = results

	if len(results) > 0 {
		touched := make([]*MemoryRecord, len(results))
		for i, r := range results {
			touched[i] = r.Record
		}
		if err := e.effects.Touch(ctx, touched, e.now().UTC()); err != nil {
			e.warn(ctx, &resp.Warnings, Warning{
				Kind:    WarnTouchFailed,
				Message: "access bookkeeping failed",
				Err:     err,
			})
		}
	}
	return resp, nil
}

// resolve returns the records of every fused ID. Vector matches carry their own
// documents; keyword-only IDs are fetched from the vector index, and IDs it no
// longer holds are left out.
func (e *Engine) resolve(ctx context.Context, fused []intelligence.Fused, byID map[string]*storage.Match) (map[string]*MemoryRecord, error) {
	records := make(map[string]*MemoryRecord, len(fused))
	var missing []string
	for _, f := range fused {
		if m, ok := byID[f.ID]; ok {
			records[f.ID] = fromDocument(&m.Document)
		} else {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) == 0 {
		return records, nil
	}

	docs, err := e.index.Get(ctx, missing)
	if err != nil {
		return nil, unavailable(ErrStorageOperation, err)
	}
	for _, doc := range docs {
		records[doc.ID] = fromDocument(doc)
	}
	if dropped := len(missing) - len(docs); dropped > 0 {
		e.logger.Debug("keyword hits missing from vector index", zap.Int("count", dropped))
	}
	return records, nil
}

// rerank reorders results with the rerank model. On failure it warns and returns
// results unchanged.
func (e *Engine) rerank(ctx context.Context, query string, results []*SearchResult, topN int, resp *SearchResponse) []*SearchResult {
	candidates := make([]intelligence.Candidate, len(results))
	byID := make(map[string]*SearchResult, len(results))
	for i, r := range results {
		candidates[i] = intelligence.Candidate{ID: r.Record.ID, Text: r.Record.Text, Score: r.FusedScore}
		byID[r.Record.ID] = r
	}

	reranked, err := e.reranker.Rerank(ctx, query, candidates, topN)
	if err != nil {
		if errors.Is(err, intelligence.ErrMalformedRerank) {
			err = fmt.Errorf("%w: %w", ErrMalformedRerankResponse, err)
		} else {
			err = unavailable(ErrLLMOperation, err)
		}
		e.warn(ctx, &resp.Warnings, Warning{
			Kind:    WarnRerankFallback,
			Message: "rerank failed, keeping fused order",
			Err:     err,
		})
		return results
	}

	out := make([]*SearchResult, 0, len(reranked))
	for _, rr := range reranked {
		r := byID[rr.ID]
		r.Rating = rr.Rating
		r.Score = rr.RerankScore
		out = append(out, r)
	}
	resp.Reranked = true
	return out
}
