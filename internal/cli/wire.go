package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"kbagent/config"
	"kbagent/internal/adapter/cache"
	"kbagent/internal/adapter/chunker"
	"kbagent/internal/adapter/embedding"
	"kbagent/internal/adapter/llm"
	"kbagent/internal/adapter/memstore"
	"kbagent/internal/adapter/pdf"
	"kbagent/internal/adapter/retriever"
	"kbagent/internal/adapter/store"
	"kbagent/internal/domain"
	"kbagent/internal/port"
	"kbagent/internal/usecase"
)

// agent holds the adapters and use cases built from one configuration.
type agent struct {
	cfg      *config.Config
	store    port.VectorStore
	embedder port.Embedder
	llm      port.LLM
	ingest   *usecase.IngestUseCase
	retrieve *usecase.RetrieveUseCase
	logger   *slog.Logger
	closers  []io.Closer
}

// newAgent wires the pipeline. The generation model is only built when
// withLLM is set, so ingest and delete work without chat credentials.
func newAgent(ctx context.Context, cfg *config.Config, dir string, withLLM bool, logger *slog.Logger) (*agent, error) {
	a := &agent{cfg: cfg, logger: logger}

	emb, err := newEmbedder(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = emb
	if c, ok := emb.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	st, err := newStore(ctx, cfg.Store, dir, emb)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)

	if withLLM {
		model, err := newLLM(ctx, cfg.Generation)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create generation client: %w", err)
		}
		a.llm = model
		if c, ok := model.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}

	a.ingest = usecase.NewIngestUseCase(
		pdf.NewExtractor(),
		chunker.NewRecursiveChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		emb,
		st,
		cfg.Ingest.Dedup,
		logger,
	)

	var r port.Retriever = retriever.NewSemanticRetriever(st, emb)
	if cfg.Retrieve.CacheSize > 0 {
		cached := cache.NewCachedRetriever(r, cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL))
		a.ingest.OnMutation(cached)
		r = cached
	}
	a.retrieve = usecase.NewRetrieveUseCase(r, cfg.Retrieve.TopK, logger)

	logger.Debug("agent ready",
		"store", cfg.Store.Backend,
		"collection", cfg.Store.Collection,
		"embedding", emb.ModelName(),
		"dimension", emb.Dimension())
	return a, nil
}

// chat starts a conversation in sess. The agent must have been built withLLM.
func (a *agent) chat(sess *usecase.Session, format usecase.Format) *usecase.Chat {
	return usecase.NewChat(sess, a.retrieve, usecase.NewAnswerComposer(a.llm, format), a.logger)
}

func (a *agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) (port.Embedder, error) {
	opts := embedding.Options{
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Dimension: cfg.Dimension,
		BatchSize: cfg.BatchSize,
		Timeout:   cfg.Timeout,
	}

	switch cfg.Provider {
	case "ollama":
		return embedding.NewOllamaEmbedder(opts), nil
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.APIKeyEnv, opts)
	case "gemini":
		return embedding.NewGeminiEmbedder(ctx, geminiKeyEnv(cfg.APIKeyEnv), opts, logger)
	case "hash":
		return embedding.NewHashEmbedder(cfg.Dimension), nil
	}
	return nil, fmt.Errorf("%w: embedding provider %q", domain.ErrUnsupportedBackend, cfg.Provider)
}

func newStore(ctx context.Context, cfg config.StoreConfig, dir string, emb port.Embedder) (port.VectorStore, error) {
	switch cfg.Backend {
	case "bolt":
		return store.OpenBoltVectorStore(config.ResolvePath(dir, cfg.Path), cfg.Collection, emb.Dimension(), emb.ModelName())
	case "sqlite":
		return store.OpenSQLiteVectorStore(config.ResolvePath(dir, cfg.Path), cfg.Collection, emb.Dimension(), emb.ModelName())
	case "weaviate":
		client, err := store.NewWeaviateClient(cfg.Weaviate.Host, cfg.Weaviate.Scheme)
		if err != nil {
			return nil, err
		}
		return store.NewWeaviateVectorStore(ctx, client, cfg.Collection)
	case "memory":
		return memstore.NewMemoryVectorStore(emb.Dimension()), nil
	}
	return nil, fmt.Errorf("%w: store backend %q", domain.ErrUnsupportedBackend, cfg.Backend)
}

func newLLM(ctx context.Context, cfg config.GenerationConfig) (port.LLM, error) {
	opts := llm.Options{
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}

	switch cfg.Provider {
	case "ollama", "openai":
		return llm.NewClient(cfg.Provider, cfg.APIKeyEnv, opts)
	case "gemini":
		return llm.NewGemini(ctx, geminiKeyEnv(cfg.APIKeyEnv), opts)
	case "echo":
		return llm.Echo{}, nil
	}
	return nil, fmt.Errorf("%w: generation provider %q", domain.ErrUnsupportedBackend, cfg.Provider)
}

// geminiKeyEnv swaps the OpenAI default for the Gemini one.
func geminiKeyEnv(env string) string {
	if env == "" || env == "OPENAI_API_KEY" {
		return "GEMINI_API_KEY"
	}
	return env
}
