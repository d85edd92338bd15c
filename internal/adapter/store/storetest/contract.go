// Package storetest holds the behaviour every VectorStore backend must share.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kbagent/internal/domain"
	"kbagent/internal/port"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) port.VectorStore

// Records builds n records for source, each with a one-hot vector of size dim.
func Records(source string, n, dim int) []port.Record {
	records := make([]port.Record, n)
	for i := range records {
		v := make([]float32, dim)
		v[i%dim] = 1
		records[i] = port.Record{
			ID:     fmt.Sprintf("%s-%d", source, i),
			Text:   fmt.Sprintf("%s chunk %d", source, i),
			Vector: v,
			Metadata: map[string]string{
				domain.MetaSource:     source,
				domain.MetaChunkIndex: fmt.Sprint(i),
			},
		}
	}
	return records
}

// Run exercises insert, search, delete-by-predicate and count.
func Run(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("SearchEmpty", func(t *testing.T) {
		s := open(t)
		hits, err := s.Search(ctx, []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("InsertAndSearch", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, Records("a.pdf", 4, 4)))

		hits, err := s.Search(ctx, []float32{0, 0, 1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "a.pdf-2", hits[0].ID)
		assert.Equal(t, "a.pdf chunk 2", hits[0].Text)
		assert.Equal(t, "a.pdf", hits[0].Metadata[domain.MetaSource])
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	})

	t.Run("SearchLimitLargerThanStore", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, Records("a.pdf", 3, 4)))

		hits, err := s.Search(ctx, []float32{1, 0, 0, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 3)
	})

	t.Run("DeleteBySource", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, Records("a.pdf", 3, 4)))
		require.NoError(t, s.Insert(ctx, Records("b.pdf", 2, 4)))

		n, err := s.Delete(ctx, domain.Where(domain.MetaSource, "a.pdf"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		left, err := s.Count(ctx, domain.Where(domain.MetaSource, "a.pdf"))
		require.NoError(t, err)
		assert.Zero(t, left)

		total, err := s.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		hits, err := s.Search(ctx, []float32{1, 0, 0, 0}, 10)
		require.NoError(t, err)
		for _, h := range hits {
			assert.Equal(t, "b.pdf", h.Metadata[domain.MetaSource])
		}
	})

	t.Run("DeleteNoMatchIsNoop", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, Records("a.pdf", 2, 4)))

		n, err := s.Delete(ctx, domain.Where(domain.MetaSource, "missing.pdf"))
		require.NoError(t, err)
		assert.Zero(t, n)

		total, err := s.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("CountConjunction", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, Records("a.pdf", 3, 4)))

		n, err := s.Count(ctx, domain.Predicate{domain.MetaSource: "a.pdf", domain.MetaChunkIndex: "1"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, Records("a.pdf", 2, 4)))

		err := s.Insert(ctx, Records("b.pdf", 1, 3))
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

		_, err = s.Search(ctx, []float32{1, 0}, 1)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("MismatchedBatchInsertsNothing", func(t *testing.T) {
		s := open(t)
		batch := append(Records("a.pdf", 2, 4), Records("bad.pdf", 1, 3)...)

		err := s.Insert(ctx, batch)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

		total, err := s.Count(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}
