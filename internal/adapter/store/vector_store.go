package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"kbagent/internal/domain"
	"kbagent/internal/port"
)

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Each collection is one bucket; every Insert or Delete is a single
// transaction, so a batch is stored entirely or not at all.
// Search is brute force over an in-memory copy of the collection.
type BoltVectorStore struct {
	db     *bbolt.DB
	ownsDB bool
	info   CollectionInfo

	mu      sync.RWMutex
	records map[string]Candidate
}

type storedRecord struct {
	Text     string            `json:"t"`
	Vector   []float32         `json:"v"`
	Metadata map[string]string `json:"m,omitempty"`
}

// OpenBoltVectorStore opens (creating if needed) the database file at path.
func OpenBoltVectorStore(path, collection string, dimension int, model string) (*BoltVectorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrStore, err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStore, path, err)
	}

	s, err := NewBoltVectorStore(db, collection, dimension, model)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewBoltVectorStore creates a vector store over an open database.
// A dimension of zero adopts whatever the collection already holds, or the
// length of the first inserted vector.
func NewBoltVectorStore(db *bbolt.DB, collection string, dimension int, model string) (*BoltVectorStore, error) {
	s := &BoltVectorStore{
		db:      db,
		records: make(map[string]Candidate),
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(collection)); err != nil {
			return err
		}

		info, err := loadCollection(tx, collection)
		if err != nil {
			return err
		}
		if info == nil {
			info = &CollectionInfo{Name: collection, Model: model, CreatedAt: time.Now().UTC()}
		}

		dim, err := checkDimension(info.Dimension, dimension)
		if err != nil {
			return err
		}
		info.Dimension = dim
		s.info = *info
		return saveCollection(tx, info)
	})
	if err != nil {
		return nil, storeErr("open collection", err)
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("%w: load vectors: %v", domain.ErrStore, err)
	}
	return s, nil
}

func (s *BoltVectorStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.info.Name))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var rec storedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // Skip corrupted entries
			}
			s.records[string(k)] = Candidate{
				ID:       string(k),
				Text:     rec.Text,
				Vector:   rec.Vector,
				Metadata: rec.Metadata,
			}
			return nil
		})
	})
}

// Info returns the collection description.
func (s *BoltVectorStore) Info() CollectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *BoltVectorStore) Insert(ctx context.Context, records []port.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.info.Dimension
	if dim == 0 {
		dim = len(records[0].Vector)
	}
	for _, r := range records {
		if len(r.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(r.Vector))
		}
	}

	staged := make([]Candidate, 0, len(records))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.info.Name))
		if b == nil {
			return fmt.Errorf("collection bucket %q not found", s.info.Name)
		}

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}

			meta := copyMetadata(r.Metadata)
			data, err := json.Marshal(storedRecord{Text: r.Text, Vector: r.Vector, Metadata: meta})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return err
			}
			staged = append(staged, Candidate{ID: r.ID, Text: r.Text, Vector: r.Vector, Metadata: meta})
		}

		if s.info.Dimension == 0 {
			info := s.info
			info.Dimension = dim
			return saveCollection(tx, &info)
		}
		return nil
	})
	if err != nil {
		return storeErr("insert", err)
	}

	// The cache only changes once the transaction has committed.
	s.info.Dimension = dim
	for _, c := range staged {
		s.records[c.ID] = c
	}
	return nil
}

func (s *BoltVectorStore) Search(ctx context.Context, query []float32, k int) ([]port.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}
	if len(query) != s.info.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %d",
			domain.ErrDimensionMismatch, len(query), s.info.Dimension)
	}

	candidates := make([]Candidate, 0, len(s.records))
	for _, c := range s.records {
		candidates = append(candidates, c)
	}
	return Rank(query, candidates, k), nil
}

func (s *BoltVectorStore) Delete(ctx context.Context, where domain.Predicate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, c := range s.records {
		if where.Match(c.Metadata) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(s.info.Name))
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("delete", err)
	}

	for _, id := range ids {
		delete(s.records, id)
	}
	return len(ids), nil
}

func (s *BoltVectorStore) Count(ctx context.Context, where domain.Predicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(where) == 0 {
		return len(s.records), nil
	}

	n := 0
	for _, c := range s.records {
		if where.Match(c.Metadata) {
			n++
		}
	}
	return n, nil
}

func (s *BoltVectorStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
