package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbagent/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 150, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieve.TopK)
	assert.Equal(t, "kb_agent", cfg.Store.Collection)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 0.2, cfg.Generation.Temperature)
	assert.Equal(t, DedupSession, cfg.Ingest.Dedup)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "kbagent.yaml")

	content := `
chunking:
  chunk_size: 400
  chunk_overlap: 50
retrieve:
  top_k: 3
  cache_ttl: 30s
store:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 400, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieve.TopK)
	assert.Equal(t, 30*time.Second, cfg.Retrieve.CacheTTL)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	// untouched sections keep their defaults
	assert.Equal(t, "kb_agent", cfg.Store.Collection)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "kbagent.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("retrieve:\n  top_k: 3\n"), 0644))

	t.Setenv("KB_RETRIEVE_TOP_K", "9")
	t.Setenv("KB_GENERATION_MODEL", "llama3.2")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retrieve.TopK)
	assert.Equal(t, "llama3.2", cfg.Generation.Model)
}

func TestLoad_InvalidOverlap(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "kbagent.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("chunking:\n  chunk_size: 100\n  chunk_overlap: 100\n"), 0644))

	_, err := Load(configPath)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero chunk size", func(c *Config) { c.Chunking.ChunkSize = 0 }, domain.ErrInvalidConfig},
		{"negative overlap", func(c *Config) { c.Chunking.ChunkOverlap = -1 }, domain.ErrInvalidConfig},
		{"zero top k", func(c *Config) { c.Retrieve.TopK = 0 }, domain.ErrInvalidConfig},
		{"unknown backend", func(c *Config) { c.Store.Backend = "chroma" }, domain.ErrUnsupportedBackend},
		{"unknown embedder", func(c *Config) { c.Embedding.Provider = "voyage" }, domain.ErrUnsupportedBackend},
		{"unknown generator", func(c *Config) { c.Generation.Provider = "claude" }, domain.ErrUnsupportedBackend},
		{"unknown dedup", func(c *Config) { c.Ingest.Dedup = "hash" }, domain.ErrInvalidConfig},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tc.want)
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".kbagent"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".kbagent", "config.yaml"), []byte("ingest:\n  dedup: content\n"), 0644))

	cfg, err := LoadFromDir(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, DedupContent, cfg.Ingest.Dedup)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kbagent.yaml")

	cfg := DefaultConfig()
	cfg.Store.Backend = "weaviate"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "weaviate", loaded.Store.Backend)
	assert.Equal(t, cfg.Embedding.Timeout, loaded.Embedding.Timeout)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/user/project", ".kbagent", "kb.db"), ResolvePath("/home/user/project", filepath.Join(".kbagent", "kb.db")))
	assert.Equal(t, "/var/lib/kb.db", ResolvePath("/home/user/project", "/var/lib/kb.db"))
}

func TestLoadDotEnv_ShellWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KB_GENERATION_MODEL=from-file\nKB_EMBEDDING_MODEL=mxbai-embed-large\n"), 0644))

	t.Setenv("KB_GENERATION_MODEL", "from-shell")
	t.Setenv("KB_EMBEDDING_MODEL", "")
	os.Unsetenv("KB_EMBEDDING_MODEL")

	LoadDotEnv(dir)
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-shell", cfg.Generation.Model)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
}
