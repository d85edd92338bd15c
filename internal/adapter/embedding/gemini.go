package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"kbagent/internal/domain"
)

const DefaultGeminiModel = "gemini-embedding-001"

// GeminiEmbedder embeds text with the Gemini embedding API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	batchSize int
	logger    *slog.Logger
}

func NewGeminiEmbedder(ctx context.Context, apiKeyEnv string, opts Options, logger *slog.Logger, clientOpts ...option.ClientOption) (*GeminiEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not found in environment variable: %s", domain.ErrInvalidConfig, apiKeyEnv)
	}

	client, err := genai.NewClient(ctx, append(clientOpts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %v", domain.ErrEmbedding, err)
	}

	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.BatchSize <= 0 || opts.BatchSize > 100 {
		opts.BatchSize = 100
	}

	return &GeminiEmbedder{
		client:    client,
		model:     opts.Model,
		dimension: opts.Dimension,
		batchSize: opts.BatchSize,
		logger:    logger,
	}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := e.client.EmbeddingModel(e.model)
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := em.NewBatch()
		for _, t := range texts[i:end] {
			batch.AddContent(genai.Text(t))
		}

		e.logger.DebugContext(ctx, "embedding batch", "model", e.model, "size", end-i)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: gemini: %v", domain.ErrEmbedding, err)
		}
		if len(res.Embeddings) != end-i {
			return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs", domain.ErrEmbedding, len(res.Embeddings), end-i)
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: empty embedding received", domain.ErrEmbedding)
			}
			all = append(all, emb.Values)
		}
	}

	if e.dimension == 0 {
		e.dimension = len(all[0])
	}
	return all, nil
}

func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}

func (e *GeminiEmbedder) ModelName() string {
	return e.model
}

func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}
