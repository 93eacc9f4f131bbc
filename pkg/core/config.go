package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/oceanbase/localmem-go/pkg/logger"
)

// Config contains the complete configuration of an Engine.
//
// It includes settings for:
//   - Workspace selection and agent identity
//   - Vector store (chromem by default, or sqlite, postgres, oceanbase)
//   - Embedding provider (ollama by default, or openai)
//   - LLM provider for reranking (optional)
//   - Policy constants and logging
//
// Example:
//
//	config := core.DefaultConfig()
//	config.Workspace = "~/.openclaw/workspaces/research"
//	config.Embedder = core.EmbedderConfig{
//	    Provider: "openai",
//	    APIKey:   "sk-...",
//	    Model:    "text-embedding-3-small",
//	}
//	engine, err := core.Open(ctx, config)
type Config struct {
	// Workspace is an explicit workspace path. Empty means auto-detect.
	Workspace string `json:"workspace,omitempty"`

	// Shared selects the shared workspace when Workspace is empty.
	Shared bool `json:"shared,omitempty"`

	// AgentID overrides agent detection.
	AgentID string `json:"agent_id,omitempty"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// LLM contains the rerank model configuration. An empty provider disables reranking.
	LLM LLMConfig `json:"llm,omitempty"`

	// Policy contains the ranking, dedup, decay and locking constants.
	Policy Policy `json:"policy"`

	// Log contains logger configuration.
	Log logger.Config `json:"log,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: chromem, sqlite, postgres, oceanbase
//
// The chromem and sqlite stores live inside the workspace and need no other setting.
type VectorStoreConfig struct {
	// Provider is the vector store provider name.
	Provider string `json:"provider"`

	// CollectionName is the collection or table name (default: "semantic_memory").
	CollectionName string `json:"collection_name,omitempty"`

	// Compress gzips chromem documents on disk.
	Compress bool `json:"compress,omitempty"`

	// Server settings for postgres and oceanbase.
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	DBName   string `json:"db_name,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: ollama, openai
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key,omitempty"`

	// Model is the embedding model name (e.g., "nomic-embed-text", "text-embedding-3-small").
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 768, 1536).
	Dimensions int `json:"dimensions,omitempty"`
}

// LLMConfig contains configuration for the rerank model.
//
// Supported providers: ollama, openai, anthropic
type LLMConfig struct {
	// Provider is the LLM provider name. Empty disables reranking.
	Provider string `json:"provider,omitempty"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key,omitempty"`

	// Model is the model name to use.
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`
}

// Policy holds the tunable constants of the engine.
//
// The defaults are the documented behaviour; change them only deliberately.
type Policy struct {
	// RRFK is the reciprocal rank fusion smoothing constant. Default: 60
	RRFK float64 `json:"rrf_k,omitempty"`

	// NearDuplicateThreshold blocks insertion at or above this similarity. Default: 0.95
	NearDuplicateThreshold float64 `json:"near_duplicate_threshold,omitempty"`

	// NearDuplicateWarn starts the warning band below the threshold. Default: 0.88
	NearDuplicateWarn float64 `json:"near_duplicate_warn,omitempty"`

	// NeighbourCount is how many neighbours the near-duplicate check inspects. Default: 3
	NeighbourCount int `json:"neighbour_count,omitempty"`

	// DecayStep is subtracted from stale confidences per pass. Default: 0.10
	DecayStep float64 `json:"decay_step,omitempty"`

	// DecayThreshold deletes memories decayed below it. Default: 0.15
	DecayThreshold float64 `json:"decay_threshold,omitempty"`

	// DecayAgeDays is the staleness age. Default: 30
	DecayAgeDays int `json:"decay_age_days,omitempty"`

	// LockTimeout bounds the wait for the workspace lock. Default: 10s
	LockTimeout time.Duration `json:"lock_timeout,omitempty"`

	// RetryMax is the number of retries of a failed index write. Default: 3
	RetryMax int `json:"retry_max,omitempty"`

	// RetryInitialInterval is the first retry delay, doubled each time. Default: 100ms
	RetryInitialInterval time.Duration `json:"retry_initial_interval,omitempty"`

	// RerankTopN is how many leading results are rated when reranking. Default: 10
	RerankTopN int `json:"rerank_top_n,omitempty"`
}

// DefaultPolicy returns the default policy constants.
func DefaultPolicy() Policy {
	return Policy{
		RRFK:                   60,
		NearDuplicateThreshold: 0.95,
		NearDuplicateWarn:      0.88,
		NeighbourCount:         3,
		DecayStep:              0.10,
		DecayThreshold:         0.15,
		DecayAgeDays:           30,
		LockTimeout:            10 * time.Second,
		RetryMax:               3,
		RetryInitialInterval:   100 * time.Millisecond,
		RerankTopN:             10,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.RRFK == 0 {
		p.RRFK = d.RRFK
	}
	if p.NearDuplicateThreshold == 0 {
		p.NearDuplicateThreshold = d.NearDuplicateThreshold
	}
	if p.NearDuplicateWarn == 0 {
		p.NearDuplicateWarn = d.NearDuplicateWarn
	}
	if p.NeighbourCount == 0 {
		p.NeighbourCount = d.NeighbourCount
	}
	if p.DecayStep == 0 {
		p.DecayStep = d.DecayStep
	}
	if p.DecayThreshold == 0 {
		p.DecayThreshold = d.DecayThreshold
	}
	if p.DecayAgeDays == 0 {
		p.DecayAgeDays = d.DecayAgeDays
	}
	if p.LockTimeout == 0 {
		p.LockTimeout = d.LockTimeout
	}
	if p.RetryMax == 0 {
		p.RetryMax = d.RetryMax
	}
	if p.RetryInitialInterval == 0 {
		p.RetryInitialInterval = d.RetryInitialInterval
	}
	if p.RerankTopN == 0 {
		p.RerankTopN = d.RerankTopN
	}
	return p
}

// Validate checks that every policy value is in range.
func (p Policy) Validate() error {
	switch {
	case p.RRFK <= 0:
		return fmt.Errorf("%w: rrf_k must be positive", ErrInvalidConfig)
	case p.NearDuplicateThreshold <= 0 || p.NearDuplicateThreshold > 1:
		return fmt.Errorf("%w: near_duplicate_threshold must be in (0, 1]", ErrInvalidConfig)
	case p.NearDuplicateWarn <= 0 || p.NearDuplicateWarn > p.NearDuplicateThreshold:
		return fmt.Errorf("%w: near_duplicate_warn must be in (0, near_duplicate_threshold]", ErrInvalidConfig)
	case p.NeighbourCount < 1:
		return fmt.Errorf("%w: neighbour_count must be at least 1", ErrInvalidConfig)
	case p.DecayStep <= 0 || p.DecayStep > 1:
		return fmt.Errorf("%w: decay_step must be in (0, 1]", ErrInvalidConfig)
	case p.DecayThreshold < 0 || p.DecayThreshold > 1:
		return fmt.Errorf("%w: decay_threshold must be in [0, 1]", ErrInvalidConfig)
	case p.DecayAgeDays < 0:
		return fmt.Errorf("%w: decay_age_days must not be negative", ErrInvalidConfig)
	case p.LockTimeout <= 0:
		return fmt.Errorf("%w: lock_timeout must be positive", ErrInvalidConfig)
	case p.RetryMax < 0:
		return fmt.Errorf("%w: retry_max must not be negative", ErrInvalidConfig)
	case p.RetryInitialInterval <= 0:
		return fmt.Errorf("%w: retry_initial_interval must be positive", ErrInvalidConfig)
	case p.RerankTopN < 1:
		return fmt.Errorf("%w: rerank_top_n must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// DefaultConfig returns a configuration for a local Ollama embedder and a chromem
// vector store in the auto-detected workspace.
func DefaultConfig() *Config {
	return &Config{
		VectorStore: VectorStoreConfig{Provider: "chromem"},
		Embedder:    EmbedderConfig{Provider: "ollama", Model: "nomic-embed-text"},
		Policy:      DefaultPolicy(),
		Log:         *logger.DefaultConfig(),
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - LOCALMEM_WORKSPACE, LOCALMEM_SHARED, LOCALMEM_AGENT_ID
//   - DATABASE_PROVIDER (chromem, sqlite, postgres, oceanbase)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - LOCALMEM_RRF_K, LOCALMEM_DECAY_STEP, LOCALMEM_LOCK_TIMEOUT
//   - LOG_LEVEL, LOG_FILE
//
// Returns a Config instance, or an error if a numeric variable cannot be parsed.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()
	config.Workspace = os.Getenv("LOCALMEM_WORKSPACE")
	config.Shared = os.Getenv("LOCALMEM_SHARED") == "true"
	config.AgentID = os.Getenv("LOCALMEM_AGENT_ID")

	provider := getEnvOrDefault("DATABASE_PROVIDER", "chromem")
	config.VectorStore = VectorStoreConfig{Provider: provider}

	var err error
	switch provider {
	case "chromem":
		config.VectorStore.CollectionName = os.Getenv("CHROMEM_COLLECTION")
		config.VectorStore.Compress = os.Getenv("CHROMEM_COMPRESS") == "true"
	case "sqlite":
		config.VectorStore.CollectionName = os.Getenv("SQLITE_COLLECTION")
	case "postgres":
		config.VectorStore.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		config.VectorStore.Port, err = envInt("POSTGRES_PORT", 5432)
		config.VectorStore.User = getEnvOrDefault("POSTGRES_USER", "postgres")
		config.VectorStore.Password = os.Getenv("POSTGRES_PASSWORD")
		config.VectorStore.DBName = getEnvOrDefault("POSTGRES_DATABASE", "localmem")
		config.VectorStore.CollectionName = os.Getenv("POSTGRES_COLLECTION")
		config.VectorStore.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
	case "oceanbase":
		config.VectorStore.Host = getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1")
		config.VectorStore.Port, err = envInt("OCEANBASE_PORT", 2881)
		config.VectorStore.User = getEnvOrDefault("OCEANBASE_USER", "root@sys")
		config.VectorStore.Password = os.Getenv("OCEANBASE_PASSWORD")
		config.VectorStore.DBName = getEnvOrDefault("OCEANBASE_DATABASE", "localmem")
		config.VectorStore.CollectionName = os.Getenv("OCEANBASE_COLLECTION")
	}
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", err)
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "ollama")
	defaultEmbeddingModel := "nomic-embed-text"
	if embedderProvider == "openai" {
		defaultEmbeddingModel = "text-embedding-3-small"
	}
	config.Embedder = EmbedderConfig{
		Provider: embedderProvider,
		APIKey:   os.Getenv("EMBEDDING_API_KEY"),
		Model:    getEnvOrDefault("EMBEDDING_MODEL", defaultEmbeddingModel),
		BaseURL:  os.Getenv("EMBEDDING_BASE_URL"),
	}
	if config.Embedder.Dimensions, err = envInt("EMBEDDING_DIMS", 0); err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", err)
	}

	config.LLM = LLMConfig{
		Provider: os.Getenv("LLM_PROVIDER"),
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    os.Getenv("LLM_MODEL"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}

	if v := os.Getenv("LOCALMEM_RRF_K"); v != "" {
		if config.Policy.RRFK, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: LOCALMEM_RRF_K: %v", ErrInvalidConfig, err))
		}
	}
	if v := os.Getenv("LOCALMEM_DECAY_STEP"); v != "" {
		if config.Policy.DecayStep, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: LOCALMEM_DECAY_STEP: %v", ErrInvalidConfig, err))
		}
	}
	if v := os.Getenv("LOCALMEM_LOCK_TIMEOUT"); v != "" {
		if config.Policy.LockTimeout, err = time.ParseDuration(v); err != nil {
			return nil, NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: LOCALMEM_LOCK_TIMEOUT: %v", ErrInvalidConfig, err))
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Log.Level = logger.Level(v)
	}
	config.Log.OutputPath = os.Getenv("LOG_FILE")

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewMemoryError("LoadConfigFromEnvFile", fmt.Errorf("failed to load .env file: %w", err))
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Fields missing from the file keep their DefaultConfig values.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	config.Policy = config.Policy.withDefaults()

	return config, nil
}

// Validate validates the configuration.
//
// Checks that:
//   - The vector store provider is supported, with a host for server stores
//   - The embedder provider is supported, with an API key for openai
//   - The LLM provider, if set, is supported
//   - Every policy value is in range
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	switch c.VectorStore.Provider {
	case "chromem", "sqlite":
	case "postgres", "oceanbase":
		if c.VectorStore.Host == "" {
			return NewMemoryError("Validate", fmt.Errorf("%w: %s requires a host", ErrInvalidConfig, c.VectorStore.Provider))
		}
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown vector store %q", ErrInvalidConfig, c.VectorStore.Provider))
	}

	switch c.Embedder.Provider {
	case "ollama":
	case "openai":
		if c.Embedder.APIKey == "" {
			return NewMemoryError("Validate", fmt.Errorf("%w: openai embedder requires an API key", ErrInvalidConfig))
		}
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown embedder %q", ErrInvalidConfig, c.Embedder.Provider))
	}

	switch c.LLM.Provider {
	case "", "ollama":
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			return NewMemoryError("Validate", fmt.Errorf("%w: %s LLM requires an API key", ErrInvalidConfig, c.LLM.Provider))
		}
	default:
		return NewMemoryError("Validate", fmt.Errorf("%w: unknown LLM provider %q", ErrInvalidConfig, c.LLM.Provider))
	}

	if err := c.Policy.withDefaults().Validate(); err != nil {
		return NewMemoryError("Validate", err)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n, nil
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		for _, name := range []string{".env", ".env.example"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
