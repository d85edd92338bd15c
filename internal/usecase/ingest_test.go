package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kbagent/config"
	"kbagent/internal/adapter/chunker"
	"kbagent/internal/adapter/embedding"
	"kbagent/internal/adapter/fs"
	"kbagent/internal/adapter/memstore"
	"kbagent/internal/adapter/retriever"
	"kbagent/internal/domain"
	"kbagent/internal/logger"
	"kbagent/internal/port"
)

// pageExtractor reads a text file and treats form feeds as page breaks.
type pageExtractor struct{}

func (pageExtractor) ExtractPages(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	if string(data) == "BROKEN" {
		return nil, fmt.Errorf("%w: malformed xref table", domain.ErrExtraction)
	}
	return strings.Split(string(data), "\f"), nil
}

type failingEmbedder struct{ dim int }

func (e failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("dial tcp 127.0.0.1:11434: connection refused")
}
func (e failingEmbedder) Dimension() int    { return e.dim }
func (e failingEmbedder) ModelName() string { return "failing" }

// cancellingEmbedder embeds normally and then cancels the caller's context.
type cancellingEmbedder struct {
	port.Embedder
	cancel context.CancelFunc
}

func (e cancellingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.Embedder.Embed(ctx, texts)
	e.cancel()
	return vecs, err
}

// partialStore accepts half of a batch and then fails, like a non-atomic
// backend losing its connection mid-insert.
type partialStore struct {
	*memstore.MemoryVectorStore
}

func (s partialStore) Insert(ctx context.Context, records []port.Record) error {
	if err := s.MemoryVectorStore.Insert(ctx, records[:len(records)/2]); err != nil {
		return err
	}
	return errors.New("connection reset by peer")
}

// countingStore records how often Count is called.
type countingStore struct {
	*memstore.MemoryVectorStore
	counts int
}

func (s *countingStore) Count(ctx context.Context, where domain.Predicate) (int, error) {
	s.counts++
	return s.MemoryVectorStore.Count(ctx, where)
}

type invalidationCounter struct{ n int }

func (c *invalidationCounter) Invalidate() { c.n++ }

type fixture struct {
	ingest   *IngestUseCase
	store    *memstore.MemoryVectorStore
	embedder *embedding.HashEmbedder
	dir      string
}

func newFixture(t *testing.T, dedup string) *fixture {
	t.Helper()
	emb := embedding.NewHashEmbedder(256)
	st := memstore.NewMemoryVectorStore(emb.Dimension())
	return &fixture{
		ingest:   NewIngestUseCase(pageExtractor{}, chunker.NewRecursiveChunker(800, 150), emb, st, dedup, logger.Discard()),
		store:    st,
		embedder: emb,
		dir:      t.TempDir(),
	}
}

func (f *fixture) write(t *testing.T, name string, pages ...string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(pages, "\f")), 0o644))
	return path
}

func (f *fixture) count(t *testing.T, where domain.Predicate) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), where)
	require.NoError(t, err)
	return n
}

func (f *fixture) search(t *testing.T, query string, k int) []domain.ScoredChunk {
	t.Helper()
	results, err := retriever.NewSemanticRetriever(f.store, f.embedder).Search(context.Background(), query, k)
	require.NoError(t, err)
	return results
}

func wordText(n int) string {
	words := make([]string, 0, n/6+1)
	for i := 0; len(words)*6 < n+6; i++ {
		words = append(words, fmt.Sprintf("w%04d", i))
	}
	return strings.Join(words, " ")[:n]
}

const (
	zebrafishDoc = "Field notes on the zebrafish genome project. Larvae were imaged daily."
	taxDoc       = "Quarterly tax filing deadlines and late payment penalties."
)

func TestIngest_RoundTrip(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	sess := NewSession()
	ctx := context.Background()

	res, err := f.ingest.Ingest(ctx, sess, "notes.pdf", f.write(t, "notes.pdf", zebrafishDoc))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.False(t, res.Skipped)

	_, err = f.ingest.Ingest(ctx, sess, "tax.pdf", f.write(t, "tax.pdf", taxDoc))
	require.NoError(t, err)

	results := f.search(t, "zebrafish", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "notes.pdf", results[0].Chunk.Source())
	assert.Contains(t, results[0].Chunk.Text, "zebrafish")

	doc, ok := sess.Document("notes.pdf")
	require.True(t, ok)
	assert.Equal(t, 1, doc.Chunks)
	assert.Equal(t, res.UploadedAt, doc.UploadedAt)
}

func TestIngest_MetadataIsBatchCoherent(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	f.ingest.now = func() time.Time { return fixed }
	path := f.write(t, "long.pdf", wordText(2500))

	res, err := f.ingest.Ingest(context.Background(), NewSession(), "long.pdf", path)
	require.NoError(t, err)
	require.Equal(t, 4, res.Chunks)

	hash, err := fs.HashFile(path)
	require.NoError(t, err)

	results := f.search(t, "w0001", res.Chunks)
	require.Len(t, results, res.Chunks)

	seen := map[string]bool{}
	for _, r := range results {
		md := r.Chunk.Metadata
		assert.Equal(t, "long.pdf", md[domain.MetaSource])
		assert.Equal(t, "2026-03-01 09:30:00", md[domain.MetaUploadedAt])
		assert.Equal(t, res.IngestID, md[domain.MetaIngestID])
		assert.Equal(t, hash, md[domain.MetaContentHash])
		seen[md[domain.MetaChunkIndex]] = true
	}
	for i := 0; i < res.Chunks; i++ {
		assert.True(t, seen[strconv.Itoa(i)], "missing chunk_index %d", i)
	}
}

func TestIngest_ThreePageExample(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	text := wordText(2500)
	path := f.write(t, "report.pdf", text[:833], text[833:1666], text[1666:])

	res, err := f.ingest.Ingest(context.Background(), NewSession(), "report.pdf", path)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Chunks)

	// w0250 only occurs in the third chunk.
	results := f.search(t, "w0250", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "2", results[0].Chunk.Metadata[domain.MetaChunkIndex])
	assert.Contains(t, results[0].Chunk.Text, "w0250")
	for _, r := range results {
		assert.LessOrEqual(t, len([]rune(r.Chunk.Text)), 800)
	}
}

func TestIngest_SessionDedupSkipsSameName(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	sess := NewSession()
	ctx := context.Background()
	path := f.write(t, "a.pdf", wordText(2500))

	first, err := f.ingest.Ingest(ctx, sess, "a.pdf", path)
	require.NoError(t, err)
	before := f.count(t, domain.Where(domain.MetaSource, "a.pdf"))
	assert.Equal(t, first.Chunks, before)

	second, err := f.ingest.Ingest(ctx, sess, "a.pdf", path)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, before, f.count(t, domain.Where(domain.MetaSource, "a.pdf")))

	// A new session does not know about a.pdf and duplicates it.
	_, err = f.ingest.Ingest(ctx, NewSession(), "a.pdf", path)
	require.NoError(t, err)
	assert.Equal(t, 2*before, f.count(t, domain.Where(domain.MetaSource, "a.pdf")))
}

func TestIngest_ContentDedupAcrossNamesAndSessions(t *testing.T) {
	f := newFixture(t, config.DedupContent)
	ctx := context.Background()

	_, err := f.ingest.Ingest(ctx, NewSession(), "a.pdf", f.write(t, "a.pdf", zebrafishDoc))
	require.NoError(t, err)

	sess := NewSession()
	res, err := f.ingest.Ingest(ctx, sess, "copy.pdf", f.write(t, "copy.pdf", zebrafishDoc))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.SkipReason, "content already stored")
	assert.False(t, sess.IsProcessed("copy.pdf"))
	assert.Equal(t, 1, f.count(t, nil))
}

func TestIngest_ExtractionFailureWritesNothing(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	sess := NewSession()

	_, err := f.ingest.Ingest(context.Background(), sess, "bad.pdf", f.write(t, "bad.pdf", "BROKEN"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExtraction)
	assert.Zero(t, f.count(t, nil))
	assert.False(t, sess.IsProcessed("bad.pdf"))
}

func TestIngest_EmptyDocument(t *testing.T) {
	f := newFixture(t, config.DedupSession)

	_, err := f.ingest.Ingest(context.Background(), NewSession(), "blank.pdf", f.write(t, "blank.pdf", "  ", "\n\n", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExtraction)
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
	assert.Zero(t, f.count(t, nil))
}

func TestIngest_EmbeddingFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	u := NewIngestUseCase(pageExtractor{}, chunker.NewRecursiveChunker(800, 150),
		failingEmbedder{dim: 256}, f.store, config.DedupSession, logger.Discard())
	sess := NewSession()

	_, err := u.Ingest(context.Background(), sess, "a.pdf", f.write(t, "a.pdf", zebrafishDoc))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, f.count(t, nil))
	assert.Empty(t, sess.Documents())
}

func TestIngest_PartialInsertIsRolledBack(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	u := NewIngestUseCase(pageExtractor{}, chunker.NewRecursiveChunker(800, 150),
		f.embedder, partialStore{f.store}, config.DedupSession, logger.Discard())
	sess := NewSession()

	_, err := u.Ingest(context.Background(), sess, "a.pdf", f.write(t, "a.pdf", wordText(2500)))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.Zero(t, f.count(t, nil))
	assert.False(t, sess.IsProcessed("a.pdf"))
}

func TestIngest_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ingest.Ingest(ctx, NewSession(), "a.pdf", f.write(t, "a.pdf", zebrafishDoc))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.count(t, nil))
}

func TestIngest_CancelledBeforeDedupLookup(t *testing.T) {
	f := newFixture(t, config.DedupContent)
	st := &countingStore{MemoryVectorStore: f.store}
	u := NewIngestUseCase(pageExtractor{}, chunker.NewRecursiveChunker(800, 150), f.embedder, st, config.DedupContent, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := u.Ingest(ctx, NewSession(), "a.pdf", f.write(t, "a.pdf", zebrafishDoc))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, st.counts)

	sess := NewSession()
	_, err = f.ingest.Ingest(context.Background(), sess, "b.pdf", f.write(t, "b.pdf", taxDoc))
	require.NoError(t, err)
	res, err := f.ingest.Ingest(ctx, sess, "b.pdf", f.write(t, "b.pdf", taxDoc))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestIngest_CancelledAfterEmbedding(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	u := NewIngestUseCase(pageExtractor{}, chunker.NewRecursiveChunker(800, 150),
		cancellingEmbedder{Embedder: f.embedder, cancel: cancel}, f.store, config.DedupSession, logger.Discard())
	sess := NewSession()

	_, err := u.Ingest(ctx, sess, "a.pdf", f.write(t, "a.pdf", zebrafishDoc))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.count(t, nil))
	assert.False(t, sess.IsProcessed("a.pdf"))
}

func TestIngest_InvalidatesOnMutation(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	inv := &invalidationCounter{}
	f.ingest.OnMutation(inv)
	sess := NewSession()
	ctx := context.Background()
	path := f.write(t, "a.pdf", zebrafishDoc)

	_, err := f.ingest.Ingest(ctx, sess, "a.pdf", path)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.n)

	_, err = f.ingest.Ingest(ctx, sess, "a.pdf", path)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.n, "skipped ingest must not invalidate")

	_, err = f.ingest.Delete(ctx, sess, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.n)

	_, err = f.ingest.Delete(ctx, sess, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.n, "empty delete must not invalidate")
}

func TestDelete_RemovesEveryChunkOfName(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	ctx := context.Background()
	notes := f.write(t, "notes.pdf", zebrafishDoc)

	// Two sessions leave duplicate chunks behind.
	_, err := f.ingest.Ingest(ctx, NewSession(), "notes.pdf", notes)
	require.NoError(t, err)
	sess := NewSession()
	_, err = f.ingest.Ingest(ctx, sess, "notes.pdf", notes)
	require.NoError(t, err)
	_, err = f.ingest.Ingest(ctx, sess, "tax.pdf", f.write(t, "tax.pdf", taxDoc))
	require.NoError(t, err)

	n, err := f.ingest.Delete(ctx, sess, "notes.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, sess.IsProcessed("notes.pdf"))
	assert.True(t, sess.IsProcessed("tax.pdf"))

	for _, r := range f.search(t, "zebrafish", 10) {
		assert.NotEqual(t, "notes.pdf", r.Chunk.Source())
	}
	left, err := f.ingest.Count(ctx, "tax.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestDelete_UnknownNameIsNoop(t *testing.T) {
	f := newFixture(t, config.DedupSession)

	n, err := f.ingest.Delete(context.Background(), NewSession(), "never.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestReader(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	sess := NewSession()

	res, err := f.ingest.IngestReader(context.Background(), sess, "upload.pdf", strings.NewReader(zebrafishDoc))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.True(t, sess.IsProcessed("upload.pdf"))
}

func TestIngestDir(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	f.write(t, "a.pdf", zebrafishDoc)
	f.write(t, "b.PDF", taxDoc)
	f.write(t, "broken.pdf", "BROKEN")
	f.write(t, "readme.txt", "not a pdf")

	total, err := f.ingest.CountFiles(f.dir, "**/*.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	var seen []string
	results, err := f.ingest.IngestDir(context.Background(), NewSession(), f.dir, "**/*.pdf", func(r FileResult) {
		seen = append(seen, filepath.Base(r.Path))
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a.pdf", "b.PDF", "broken.pdf"}, seen)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, domain.ErrExtraction)
	assert.Equal(t, 2, f.count(t, nil))
}

func TestIngestDir_SameNameInTwoFolders(t *testing.T) {
	f := newFixture(t, config.DedupSession)
	for _, sub := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.dir, sub), 0o755))
	}
	f.write(t, filepath.Join("a", "report.pdf"), zebrafishDoc)
	f.write(t, filepath.Join("b", "report.pdf"), taxDoc)

	sess := NewSession()
	results, err := f.ingest.IngestDir(context.Background(), sess, f.dir, "**/*.pdf", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "a", filepath.Base(filepath.Dir(results[0].Path)))
	assert.Equal(t, 1, results[0].Result.Chunks)

	assert.ErrorIs(t, results[1].Err, domain.ErrDuplicateName)
	assert.Contains(t, results[1].Err.Error(), "report.pdf")
	assert.Nil(t, results[1].Result)

	assert.Equal(t, 1, f.count(t, domain.Where(domain.MetaSource, "report.pdf")))
	hits := f.search(t, "zebrafish genome", 1)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Chunk.Text, "zebrafish")
}

func TestJoinPages(t *testing.T) {
	assert.Equal(t, "one two three", JoinPages([]string{"one\n", "", "two", "   ", "three"}))
	assert.Empty(t, JoinPages(nil))
}
