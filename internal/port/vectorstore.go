package port

import (
	"context"

	"kbagent/internal/domain"
)

// VectorStore is a persistent collection of (vector, text, metadata) records.
type VectorStore interface {
	// Insert stores a batch of records.
	Insert(ctx context.Context, records []Record) error

	// Search finds the k records nearest to the query vector, best first.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Delete removes every record matching the predicate and returns how
	// many were removed. Matching nothing is not an error.
	Delete(ctx context.Context, where domain.Predicate) (int, error)

	// Count returns the number of records matching the predicate.
	Count(ctx context.Context, where domain.Predicate) (int, error)

	Close() error
}

// Record is a chunk ready for storage.
type Record struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}

// Hit is a search result.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float64 // Similarity (higher is better)
}
