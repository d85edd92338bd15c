package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"kbagent/internal/domain"
)

// EnvPrefix is the prefix for environment overrides, e.g. KB_STORE_BACKEND.
const EnvPrefix = "KB"

// Config holds all configuration for the knowledge base agent.
type Config struct {
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Store      StoreConfig      `yaml:"store"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ChunkingConfig holds text splitting configuration.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" split_words:"true"`
	ChunkOverlap int `yaml:"chunk_overlap" split_words:"true"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK      int           `yaml:"top_k" split_words:"true"`
	CacheSize int           `yaml:"cache_size" split_words:"true"` // 0 disables the query cache
	CacheTTL  time.Duration `yaml:"cache_ttl" split_words:"true"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "ollama", "openai", "gemini", "hash"
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url,omitempty" split_words:"true"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string        `yaml:"api_key_env,omitempty" split_words:"true"`
	// Dimension overrides the model's known vector size when non-zero.
	Dimension int           `yaml:"dimension,omitempty"`
	BatchSize int           `yaml:"batch_size" split_words:"true"`
	Timeout   time.Duration `yaml:"timeout"`
}

// GenerationConfig holds chat model configuration.
type GenerationConfig struct {
	Provider    string        `yaml:"provider"` // "ollama", "openai", "gemini", "echo"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url,omitempty" split_words:"true"`
	APIKeyEnv   string        `yaml:"api_key_env,omitempty" split_words:"true"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens,omitempty" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend    string         `yaml:"backend"` // "bolt", "sqlite", "weaviate", "memory"
	Path       string         `yaml:"path"`
	Collection string         `yaml:"collection"`
	Weaviate   WeaviateConfig `yaml:"weaviate"`
}

// WeaviateConfig contains connection details for a Weaviate server.
type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
}

// IngestConfig holds ingestion configuration.
type IngestConfig struct {
	Dedup   string `yaml:"dedup"`   // "session" or "content"
	Pattern string `yaml:"pattern"` // glob used when ingesting a directory
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

const (
	DedupSession = "session"
	DedupContent = "content"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			ChunkSize:    800,
			ChunkOverlap: 150,
		},
		Retrieve: RetrieveConfig{
			TopK:      5,
			CacheSize: 64,
			CacheTTL:  5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			APIKeyEnv: "OPENAI_API_KEY",
			BatchSize: 32,
			Timeout:   120 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:    "ollama",
			Model:       "qwen2.5:1.5b",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
			Timeout:     120 * time.Second,
		},
		Store: StoreConfig{
			Backend:    "bolt",
			Path:       filepath.Join(".kbagent", "kb.db"),
			Collection: "kb_agent",
			Weaviate: WeaviateConfig{
				Host:   "localhost:8080",
				Scheme: "http",
			},
		},
		Ingest: IngestConfig{
			Dedup:   DedupSession,
			Pattern: "**/*.pdf",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv exports the variables of dir/.env that are not already set.
// A missing file is not an error; the keys may come from the shell.
func LoadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
}

// LoadFromDir loads configuration from a directory (looks for kbagent.yaml).
func LoadFromDir(dir string) (*Config, error) {
	LoadDotEnv(dir)

	path := filepath.Join(dir, "kbagent.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".kbagent", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	// Defaults plus environment
	return Load("")
}

func applyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunking.chunk_size must be positive", domain.ErrInvalidConfig)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: chunking.chunk_overlap must be in [0, chunk_size)", domain.ErrInvalidConfig)
	}
	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("%w: retrieve.top_k must be positive", domain.ErrInvalidConfig)
	}
	switch c.Store.Backend {
	case "bolt", "sqlite", "weaviate", "memory":
	default:
		return fmt.Errorf("%w: store.backend %q", domain.ErrUnsupportedBackend, c.Store.Backend)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "gemini", "hash":
	default:
		return fmt.Errorf("%w: embedding.provider %q", domain.ErrUnsupportedBackend, c.Embedding.Provider)
	}
	switch c.Generation.Provider {
	case "ollama", "openai", "gemini", "echo":
	default:
		return fmt.Errorf("%w: generation.provider %q", domain.ErrUnsupportedBackend, c.Generation.Provider)
	}
	switch c.Ingest.Dedup {
	case DedupSession, DedupContent:
	default:
		return fmt.Errorf("%w: ingest.dedup must be %q or %q", domain.ErrInvalidConfig, DedupSession, DedupContent)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DataDir returns the directory holding local stores and config.
func DataDir(dir string) string {
	return filepath.Join(dir, ".kbagent")
}

// ResolvePath makes a relative store path relative to dir.
func ResolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
