package intelligence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/llm"
)

type stubLLM struct {
	reply   string
	err     error
	prompts []string
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func (s *stubLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return s.Generate(ctx, messages[len(messages)-1].Content, opts...)
}

func (s *stubLLM) Close() error { return nil }

func candidates() []intelligence.Candidate {
	return []intelligence.Candidate{
		{ID: "a", Text: "alpha", Score: 0.03},
		{ID: "b", Text: "beta", Score: 0.02},
		{ID: "c", Text: "gamma", Score: 0.01},
	}
}

func TestReranker_Blends(t *testing.T) {
	stub := &stubLLM{reply: "Sure! Ratings: [1, 5]"}
	r := intelligence.NewReranker(stub)

	out, err := r.Rerank(context.Background(), "greek letters", candidates(), 2)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, 5, out[0].Rating)
	assert.InDelta(t, 0.5*0.02+0.5, out[0].RerankScore, 1e-12)
	assert.Equal(t, "a", out[1].ID)
	assert.InDelta(t, 0.5*0.03+0.1, out[1].RerankScore, 1e-12)

	// beyond topN keeps its place at the end
	assert.Equal(t, "c", out[2].ID)
	assert.Equal(t, -1, out[2].Rating)

	require.Len(t, stub.prompts, 1)
	assert.Contains(t, stub.prompts[0], "Query: greek letters")
	assert.Contains(t, stub.prompts[0], "[1] beta")
	assert.NotContains(t, stub.prompts[0], "gamma")
	assert.Contains(t, stub.prompts[0], "Return a JSON array of 2 integers")
}

func TestReranker_Failures(t *testing.T) {
	tests := []struct {
		name      string
		stub      *stubLLM
		malformed bool
	}{
		{"provider error", &stubLLM{err: errors.New("connection refused")}, false},
		{"no array", &stubLLM{reply: "I think a is best"}, true},
		{"length mismatch", &stubLLM{reply: "[1, 2]"}, true},
		{"out of range", &stubLLM{reply: "[1, 9, 2]"}, true},
		{"broken array", &stubLLM{reply: "[1,,2]"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := intelligence.NewReranker(tt.stub).Rerank(context.Background(), "q", candidates(), 10)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.malformed, errors.Is(err, intelligence.ErrMalformedRerank))
		})
	}
}

func TestReranker_NoModel(t *testing.T) {
	_, err := intelligence.NewReranker(nil).Rerank(context.Background(), "q", candidates(), 10)
	assert.Error(t, err)

	out, err := intelligence.NewReranker(nil).Rerank(context.Background(), "q", nil, 10)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseRatings(t *testing.T) {
	ratings, err := intelligence.ParseRatings("```json\n[0, 3,5]\n```", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 5}, ratings)
}
