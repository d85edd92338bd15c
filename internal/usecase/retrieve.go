package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"kbagent/internal/domain"
	"kbagent/internal/port"
)

// Result is the outcome of a retrieval. A degraded result is empty and
// carries the cause in Err; callers treat it as "no context" rather than
// as a failed query.
type Result struct {
	Chunks   []domain.ScoredChunk
	Degraded bool
	Err      error
}

// RetrieveUseCase handles search and retrieval operations.
type RetrieveUseCase struct {
	retriever port.Retriever
	topK      int
	logger    *slog.Logger
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(retriever port.Retriever, topK int, logger *slog.Logger) *RetrieveUseCase {
	if topK <= 0 {
		topK = 5
	}
	return &RetrieveUseCase{
		retriever: retriever,
		topK:      topK,
		logger:    logger,
	}
}

func (u *RetrieveUseCase) TopK() int {
	return u.topK
}

// Retrieve returns the top-k chunks for query, best first. Search failures
// are logged and reported as a degraded empty result.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string) Result {
	return u.RetrieveK(ctx, query, u.topK)
}

func (u *RetrieveUseCase) RetrieveK(ctx context.Context, query string, k int) Result {
	chunks, err := u.retriever.Search(ctx, query, k)
	if err != nil {
		u.logger.WarnContext(ctx, "retrieval degraded, answering without context", "error", err)
		return Result{
			Degraded: true,
			Err:      fmt.Errorf("%w: %w", domain.ErrRetrievalDegraded, err),
		}
	}
	u.logger.DebugContext(ctx, "retrieved chunks", "count", len(chunks), "k", k)
	return Result{Chunks: chunks}
}
