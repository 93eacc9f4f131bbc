package intelligence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/oceanbase/localmem-go/pkg/llm"
)

// ErrMalformedRerank is returned when the rating model's reply cannot be used.
var ErrMalformedRerank = errors.New("malformed rerank response")

// DefaultRerankTopN is how many leading candidates are rated by default.
const DefaultRerankTopN = 10

// maxRating is the top of the 0-5 rating scale.
const maxRating = 5

// rerankTextLength is the number of runes of each candidate shown to the model.
const rerankTextLength = 200

var ratingsPattern = regexp.MustCompile(`\[[\d,\s]+\]`)

// Reranker refines the head of a ranking with relevance ratings from an LLM.
//
// Each rated candidate scores 0.5*Score + 0.5*rating/5. Rated candidates are resorted
// by that score and the unrated remainder follows in its original order.
type Reranker struct {
	llm llm.Provider
}

// NewReranker creates a reranker over provider.
func NewReranker(provider llm.Provider) *Reranker {
	return &Reranker{llm: provider}
}

// Rerank rates the first topN candidates against query.
//
// On any failure it returns a nil slice and an error; the caller keeps its own order.
// A reply without a JSON integer array, with the wrong number of ratings, or with a
// rating outside 0-5 is reported as ErrMalformedRerank.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate, topN int) ([]Reranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if r == nil || r.llm == nil {
		return nil, errors.New("no rerank model available")
	}
	if topN <= 0 {
		topN = DefaultRerankTopN
	}
	if topN > len(candidates) {
		topN = len(candidates)
	}

	head := candidates[:topN]
	reply, err := r.llm.Generate(ctx, BuildRerankPrompt(query, head),
		llm.WithTemperature(0),
		llm.WithMaxTokens(256),
	)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	ratings, err := ParseRatings(reply, len(head))
	if err != nil {
		return nil, err
	}

	out := make([]Reranked, 0, len(candidates))
	for i, c := range head {
		out = append(out, Reranked{
			Candidate:   c,
			Rating:      ratings[i],
			RerankScore: 0.5*c.Score + 0.5*float64(ratings[i])/maxRating,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})

	for _, c := range candidates[topN:] {
		out = append(out, Reranked{Candidate: c, Rating: -1, RerankScore: c.Score})
	}
	return out, nil
}

// BuildRerankPrompt renders the rating prompt for query and candidates.
func BuildRerankPrompt(query string, candidates []Candidate) string {
	var docs strings.Builder
	for i, c := range candidates {
		if i > 0 {
			docs.WriteString("\n")
		}
		fmt.Fprintf(&docs, "[%d] %s", i, Snippet(c.Text, rerankTextLength))
	}

	return fmt.Sprintf("Rate the relevance of each document to the query on a scale of 0-5 "+
		"(0=irrelevant, 5=highly relevant). Return ONLY a JSON array of integers.\n\n"+
		"Query: %s\n\nDocuments:\n%s\n\n"+
		"Return a JSON array of %d integers, e.g. [3, 5, 1, ...]",
		query, docs.String(), len(candidates))
}

// ParseRatings extracts exactly want integer ratings in 0-5 from reply.
func ParseRatings(reply string, want int) ([]int, error) {
	match := ratingsPattern.FindString(reply)
	if match == "" {
		return nil, fmt.Errorf("%w: no rating array in reply", ErrMalformedRerank)
	}

	var ratings []int
	if err := json.Unmarshal([]byte(match), &ratings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRerank, err)
	}
	if len(ratings) != want {
		return nil, fmt.Errorf("%w: got %d ratings for %d documents", ErrMalformedRerank, len(ratings), want)
	}
	for _, rating := range ratings {
		if rating < 0 || rating > maxRating {
			return nil, fmt.Errorf("%w: rating %d out of range", ErrMalformedRerank, rating)
		}
	}
	return ratings, nil
}
