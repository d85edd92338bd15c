package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kbagent/internal/domain"
)

func chunks(ids ...string) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, len(ids))
	for i, id := range ids {
		out[i] = domain.ScoredChunk{Chunk: domain.Chunk{ID: id}, Score: 1}
	}
	return out
}

func TestQueryCache_GetPut(t *testing.T) {
	c := NewQueryCache(10, time.Minute)

	_, ok := c.Get("bees", 5)
	assert.False(t, ok)

	c.Put("bees", 5, chunks("a"))
	got, ok := c.Get("bees", 5)
	require.True(t, ok)
	assert.Equal(t, chunks("a"), got)

	_, ok = c.Get("bees", 3)
	assert.False(t, ok, "k is part of the key")
}

func TestQueryCache_TTL(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("bees", 5, chunks("a"))
	now = now.Add(2 * time.Minute)

	_, ok := c.Get("bees", 5)
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache(2, time.Minute)

	c.Put("a", 1, chunks("a"))
	c.Put("b", 1, chunks("b"))
	_, _ = c.Get("a", 1)
	c.Put("c", 1, chunks("c"))

	_, ok := c.Get("b", 1)
	assert.False(t, ok)
	_, ok = c.Get("a", 1)
	assert.True(t, ok)
	_, ok = c.Get("c", 1)
	assert.True(t, ok)
}

func TestQueryCache_Invalidate(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put("bees", 5, chunks("a"))

	gen := c.Generation()
	c.Invalidate()

	assert.Equal(t, gen+1, c.Generation())
	_, ok := c.Get("bees", 5)
	assert.False(t, ok)

	// A result computed before the invalidation is dropped.
	c.putAt(gen, "bees", 5, chunks("stale"))
	_, ok = c.Get("bees", 5)
	assert.False(t, ok)
}

type countingRetriever struct {
	calls   int
	results []domain.ScoredChunk
	err     error
}

func (r *countingRetriever) Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	r.calls++
	return r.results, r.err
}

func TestCachedRetriever(t *testing.T) {
	inner := &countingRetriever{results: chunks("a", "b")}
	r := NewCachedRetriever(inner, NewQueryCache(10, time.Minute))
	ctx := context.Background()

	first, err := r.Search(ctx, "bees", 2)
	require.NoError(t, err)
	second, err := r.Search(ctx, "bees", 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	r.Invalidate()
	_, err = r.Search(ctx, "bees", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedRetriever_DoesNotCacheErrors(t *testing.T) {
	inner := &countingRetriever{err: errors.New("down")}
	r := NewCachedRetriever(inner, NewQueryCache(10, time.Minute))

	_, err := r.Search(context.Background(), "bees", 2)
	assert.Error(t, err)
	_, err = r.Search(context.Background(), "bees", 2)
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}
