package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kbagent/internal/domain"
	"kbagent/internal/logger"
)

type stubRetriever struct {
	chunks []domain.ScoredChunk
	err    error
	gotK   int
}

func (s *stubRetriever) Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	s.gotK = k
	return s.chunks, s.err
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	r := &stubRetriever{chunks: scored("a", "b")}
	u := NewRetrieveUseCase(r, 0, logger.Discard())

	res := u.Retrieve(context.Background(), "q")
	assert.Equal(t, 5, u.TopK())
	assert.Equal(t, 5, r.gotK)
	assert.False(t, res.Degraded)
	assert.NoError(t, res.Err)
	assert.Len(t, res.Chunks, 2)
}

func TestRetrieve_FailureDegradesToEmpty(t *testing.T) {
	cause := errors.New("weaviate: 502 bad gateway")
	u := NewRetrieveUseCase(&stubRetriever{err: cause}, 3, logger.Discard())

	res := u.Retrieve(context.Background(), "q")
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Chunks)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, domain.ErrRetrievalDegraded)
	assert.ErrorIs(t, res.Err, cause)
}

func TestRetrieveK(t *testing.T) {
	r := &stubRetriever{}
	NewRetrieveUseCase(r, 5, logger.Discard()).RetrieveK(context.Background(), "q", 2)
	assert.Equal(t, 2, r.gotK)
}
