package memstore

import (
	"context"
	"fmt"
	"sync"

	"kbagent/internal/adapter/store"
	"kbagent/internal/domain"
	"kbagent/internal/port"
)

// MemoryVectorStore is a non-persistent VectorStore for tests and
// throwaway sessions.
type MemoryVectorStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]store.Candidate
	order     []string
}

func NewMemoryVectorStore(dimension int) *MemoryVectorStore {
	return &MemoryVectorStore{
		dimension: dimension,
		records:   make(map[string]store.Candidate),
	}
}

func (s *MemoryVectorStore) Insert(ctx context.Context, records []port.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 && len(records) > 0 {
		dim = len(records[0].Vector)
	}
	for _, r := range records {
		if len(r.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(r.Vector))
		}
	}

	s.dimension = dim
	for _, r := range records {
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		s.records[r.ID] = store.Candidate{ID: r.ID, Text: r.Text, Vector: r.Vector, Metadata: meta}
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, query []float32, k int) ([]port.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, store %d", domain.ErrDimensionMismatch, len(query), s.dimension)
	}

	candidates := make([]store.Candidate, 0, len(s.order))
	for _, id := range s.order {
		candidates = append(candidates, s.records[id])
	}
	return store.Rank(query, candidates, k), nil
}

func (s *MemoryVectorStore) Delete(ctx context.Context, where domain.Predicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if where.Match(s.records[id].Metadata) {
			delete(s.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

func (s *MemoryVectorStore) Count(ctx context.Context, where domain.Predicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.records {
		if where.Match(c.Metadata) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryVectorStore) Close() error {
	return nil
}
