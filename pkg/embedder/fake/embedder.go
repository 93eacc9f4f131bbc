// Package fake provides a deterministic, offline embedder.
//
// Vectors are hashed bags of words: texts with the same set of lowercased words map
// to the same vector, and texts sharing most words land close together. That is
// enough structure for tests and demos of near-duplicate detection and vector
// ranking without a model server.
package fake

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
)

var wordPattern = regexp.MustCompile(`\w+`)

// Embedder implements embedder.Provider without any network access.
type Embedder struct {
	dims int

	mu     sync.RWMutex
	fixed  map[string][]float64
	err    error
	called int
}

// New creates a fake embedder producing vectors of dims dimensions (default 64).
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 64
	}
	return &Embedder{dims: dims, fixed: map[string][]float64{}}
}

// Set pins the vector returned for text. The vector is returned as given.
func (e *Embedder) Set(text string, vec []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixed[text] = append([]float64(nil), vec...)
}

// Fail makes every following call return err. A nil err restores normal behaviour.
func (e *Embedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns the number of texts embedded so far.
func (e *Embedder) Calls() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.called
}

// Embed returns the vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	e.called++

	if vec, ok := e.fixed[text]; ok {
		return append([]float64(nil), vec...), nil
	}
	return e.hash(text), nil
}

// EmbedBatch embeds each text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector dimension.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Close is a no-op.
func (e *Embedder) Close() error {
	return nil
}

func (e *Embedder) hash(text string) []float64 {
	vec := make([]float64, e.dims)
	seen := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if seen[w] {
			continue
		}
		seen[w] = true

		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()

		sign := 1.0
		if sum&1 == 1 {
			sign = -1.0
		}
		vec[int((sum>>1)%uint64(e.dims))] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		// Texts without words still need a usable direction.
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
