package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx"
	"kbagent/internal/domain"
	"kbagent/internal/port"

	_ "modernc.org/sqlite" // SQLite driver
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		model TEXT NOT NULL DEFAULT '',
		dimension INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		collection TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
}

// SQLiteVectorStore keeps chunks in a single SQLite table. Vectors are
// little-endian float32 blobs; search is brute force in process.
type SQLiteVectorStore struct {
	db   *sqlx.DB
	info CollectionInfo
}

type chunkRow struct {
	ID       string `db:"id"`
	Text     string `db:"text"`
	Metadata string `db:"metadata"`
	Vector   []byte `db:"vector"`
}

type collectionRow struct {
	Name      string `db:"name"`
	Model     string `db:"model"`
	Dimension int    `db:"dimension"`
	CreatedAt string `db:"created_at"`
}

// OpenSQLiteVectorStore opens the database at path and ensures the schema.
func OpenSQLiteVectorStore(path, collection string, dimension int, model string) (*SQLiteVectorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrStore, err)
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStore, path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteVectorStore{db: db}
	if err := s.init(collection, dimension, model); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteVectorStore) init(collection string, dimension int, model string) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.Exec(stmt); err != nil {
			return storeErr("create schema", err)
		}
	}

	var rows []collectionRow
	if err := s.db.Select(&rows, `SELECT name, model, dimension, created_at FROM collections WHERE name = ?`, collection); err != nil {
		return storeErr("load collection", err)
	}

	info := CollectionInfo{Name: collection, Model: model, CreatedAt: time.Now().UTC()}
	if len(rows) > 0 {
		info.Model = rows[0].Model
		info.Dimension = rows[0].Dimension
		if t, err := time.Parse(time.RFC3339, rows[0].CreatedAt); err == nil {
			info.CreatedAt = t
		}
	}

	dim, err := checkDimension(info.Dimension, dimension)
	if err != nil {
		return err
	}
	info.Dimension = dim
	s.info = info

	_, err = s.db.Exec(`INSERT INTO collections (name, model, dimension, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET dimension = excluded.dimension`,
		info.Name, info.Model, info.Dimension, info.CreatedAt.Format(time.RFC3339))
	return storeErr("save collection", err)
}

// Info returns the collection description.
func (s *SQLiteVectorStore) Info() CollectionInfo {
	return s.info
}

func (s *SQLiteVectorStore) Insert(ctx context.Context, records []port.Record) error {
	if len(records) == 0 {
		return nil
	}

	dim := s.info.Dimension
	if dim == 0 {
		dim = len(records[0].Vector)
	}
	for _, r := range records {
		if len(r.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(r.Vector))
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO chunks (id, collection, text, metadata, vector) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return storeErr("prepare insert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return storeErr("encode metadata", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, s.info.Name, r.Text, string(meta), encodeVector(r.Vector)); err != nil {
			return storeErr("insert", err)
		}
	}

	if s.info.Dimension == 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, dim, s.info.Name); err != nil {
			return storeErr("save dimension", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit insert", err)
	}
	s.info.Dimension = dim
	return nil
}

func (s *SQLiteVectorStore) Search(ctx context.Context, query []float32, k int) ([]port.Hit, error) {
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, text, metadata, vector FROM chunks WHERE collection = ?`, s.info.Name); err != nil {
		return nil, storeErr("search", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(query) != s.info.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %d",
			domain.ErrDimensionMismatch, len(query), s.info.Dimension)
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		var meta map[string]string
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			continue // Skip corrupted entries
		}
		candidates = append(candidates, Candidate{
			ID:       row.ID,
			Text:     row.Text,
			Vector:   decodeVector(row.Vector),
			Metadata: meta,
		})
	}
	return Rank(query, candidates, k), nil
}

func (s *SQLiteVectorStore) Delete(ctx context.Context, where domain.Predicate) (int, error) {
	clause, args := s.whereClause(where)

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE `+clause, args...)
	if err != nil {
		return 0, storeErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete", err)
	}
	return int(n), nil
}

func (s *SQLiteVectorStore) Count(ctx context.Context, where domain.Predicate) (int, error) {
	clause, args := s.whereClause(where)

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chunks WHERE `+clause, args...); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}

// whereClause renders a predicate as SQL. Keys are bound as JSON paths,
// never interpolated.
func (s *SQLiteVectorStore) whereClause(where domain.Predicate) (string, []any) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := []string{"collection = ?"}
	args := []any{s.info.Name}
	for _, k := range keys {
		conds = append(conds, "json_extract(metadata, ?) = ?")
		args = append(args, "$."+quoteJSONKey(k), where[k])
	}
	return strings.Join(conds, " AND "), args
}

func quoteJSONKey(k string) string {
	for _, r := range k {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			b, _ := json.Marshal(k)
			return string(b)
		}
	}
	return k
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
