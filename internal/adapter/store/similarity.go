package store

import (
	"math"
	"sort"

	"kbagent/internal/port"
)

// Candidate is a stored record considered during brute-force search.
type Candidate struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}

// Rank scores candidates by cosine similarity to query and returns the best k.
// Ties are broken by id so results are stable across runs.
func Rank(query []float32, candidates []Candidate, k int) []port.Hit {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	hits := make([]port.Hit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, port.Hit{
			ID:       c.ID,
			Text:     c.Text,
			Metadata: c.Metadata,
			Score:    CosineSimilarity(query, c.Vector),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
