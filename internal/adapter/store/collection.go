package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"kbagent/internal/domain"
)

var bucketCollections = []byte("collections")

// CollectionInfo describes the vectors a collection holds. A collection is
// bound to one embedding dimension for its lifetime.
type CollectionInfo struct {
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

// loadCollection returns the stored info for name, or nil if it does not exist yet.
func loadCollection(tx *bbolt.Tx, name string) (*CollectionInfo, error) {
	b := tx.Bucket(bucketCollections)
	if b == nil {
		return nil, nil
	}
	data := b.Get([]byte(name))
	if data == nil {
		return nil, nil
	}

	var info CollectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode collection %q: %w", name, err)
	}
	return &info, nil
}

func saveCollection(tx *bbolt.Tx, info *CollectionInfo) error {
	b, err := tx.CreateBucketIfNotExists(bucketCollections)
	if err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return b.Put([]byte(info.Name), data)
}

// checkDimension reconciles a requested dimension with a stored one.
// Zero on either side means unknown and defers to the other.
func checkDimension(stored, requested int) (int, error) {
	switch {
	case stored == 0:
		return requested, nil
	case requested == 0, requested == stored:
		return stored, nil
	default:
		return 0, fmt.Errorf("%w: collection holds %d-dimensional vectors, embedder produces %d",
			domain.ErrDimensionMismatch, stored, requested)
	}
}
