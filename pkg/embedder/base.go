// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// enabling text-to-vector conversion for similarity search.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyEmbedding is returned when a provider answers with a zero-length vector.
var ErrEmptyEmbedding = errors.New("embedding is empty")

// Provider defines the interface for embedding providers.
//
// All embedding implementations (Ollama, OpenAI-compatible, fake) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - texts: Slice of input texts to embed
	//
	// Returns a slice of embedding vectors in input order and any error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	//
	// For example, nomic-embed-text produces 768-dimensional vectors.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// SelfTest embeds a short test string and checks that a non-empty vector comes back.
//
// It is run once when a workspace is opened so a misconfigured provider fails fast
// instead of on the first insertion.
func SelfTest(ctx context.Context, p Provider) (int, error) {
	vec, err := p.Embed(ctx, "embedding self-test")
	if err != nil {
		return 0, fmt.Errorf("embedder self-test: %w", err)
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("embedder self-test: %w", ErrEmptyEmbedding)
	}
	return len(vec), nil
}
