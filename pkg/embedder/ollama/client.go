// Package ollama provides an embedder backed by a local or remote Ollama server.
//
// It is the default embedding provider: nomic-embed-text served by Ollama needs no
// API key and keeps every memory on the machine.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client implements embedder.Provider using the Ollama /api/embed endpoint.
type Client struct {
	// client is the HTTP client for API requests.
	client *http.Client

	// model is the embedding model name.
	model string

	// baseURL is the Ollama server address.
	baseURL string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating an Ollama embedder.
type Config struct {
	// Model is the model name to use (default: "nomic-embed-text").
	Model string

	// BaseURL is the server address (default: "http://localhost:11434").
	BaseURL string

	// Dimensions is the vector dimension (default: 768 for nomic-embed-text).
	Dimensions int

	// HTTPClient is a custom HTTP client (uses default if nil).
	HTTPClient *http.Client
}

// NewClient creates a new Ollama embedder.
//
// Parameters:
//   - cfg: Ollama configuration containing Model, BaseURL, Dimensions
//
// Returns:
//   - *Client: Ollama embedder instance
//   - error: Error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 768
		if model == "all-minilm" {
			dimensions = 384
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		client:     client,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text string into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple text strings into vector embeddings in one request.
//
// Parameters:
//   - ctx: Context for controlling request lifecycle
//   - texts: List of texts to embed
//
// Returns:
//   - [][]float64: Vector representations for each text (order matches input texts)
//   - error: Error if the request fails or the number of results doesn't match input
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"model": c.model,
		"input": texts,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/embed", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: unexpected number of results (got %d, expected %d)", len(response.Embeddings), len(texts))
	}
	for _, emb := range response.Embeddings {
		if len(emb) == 0 {
			return nil, errors.New("ollama embeddings: empty vector returned")
		}
	}

	return response.Embeddings, nil
}

// Dimensions returns the dimension of embedding vectors produced by this provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; HTTP clients need no explicit closing.
func (c *Client) Close() error {
	return nil
}
