package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"kbagent/config"
	"kbagent/internal/adapter/fs"
	"kbagent/internal/domain"
	"kbagent/internal/port"
)

// Invalidator is notified after every store mutation.
type Invalidator interface {
	Invalidate()
}

// IngestUseCase turns PDFs into tagged, embedded chunks in the vector store
// and removes them again by document name.
type IngestUseCase struct {
	extractor    port.Extractor
	chunker      port.Chunker
	embedder     port.Embedder
	store        port.VectorStore
	dedup        string
	logger       *slog.Logger
	invalidators []Invalidator
	now          func() time.Time
}

// NewIngestUseCase creates a new ingest use case. dedup is
// config.DedupSession or config.DedupContent.
func NewIngestUseCase(
	extractor port.Extractor,
	chunker port.Chunker,
	embedder port.Embedder,
	store port.VectorStore,
	dedup string,
	logger *slog.Logger,
) *IngestUseCase {
	if dedup == "" {
		dedup = config.DedupSession
	}
	return &IngestUseCase{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		dedup:     dedup,
		logger:    logger,
		now:       time.Now,
	}
}

// OnMutation registers inv to be invalidated after each insert or delete.
func (u *IngestUseCase) OnMutation(inv Invalidator) {
	u.invalidators = append(u.invalidators, inv)
}

// IngestResult describes one ingestion call.
type IngestResult struct {
	Name       string
	Chunks     int
	UploadedAt time.Time
	IngestID   string
	Skipped    bool
	SkipReason string
}

// Ingest extracts, chunks, embeds and stores the PDF at path under name.
// Nothing is written when extraction, chunking or embedding fails, or when
// ctx is cancelled before the insert starts. Once started the insert runs
// to completion; a failed insert is rolled back by deleting its ingest_id.
func (u *IngestUseCase) Ingest(ctx context.Context, sess *Session, name, path string) (*IngestResult, error) {
	result := &IngestResult{Name: name}
	log := u.logger.With("source", name)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if u.dedup == config.DedupSession && sess.IsProcessed(name) {
		result.Skipped = true
		result.SkipReason = "already processed in this session"
		log.InfoContext(ctx, "skipping document", "reason", result.SkipReason)
		return result, nil
	}

	pages, err := u.extractor.ExtractPages(ctx, path)
	if err != nil {
		return nil, err
	}

	chunks := u.chunker.Split(JoinPages(pages))
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrExtraction, domain.ErrEmptyDocument, name)
	}

	hash, err := fs.HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: hash %s: %v", domain.ErrExtraction, name, err)
	}

	if u.dedup == config.DedupContent {
		n, err := u.store.Count(ctx, domain.Where(domain.MetaContentHash, hash))
		if err != nil {
			return nil, wrapStore(err)
		}
		if n > 0 {
			result.Skipped = true
			result.SkipReason = fmt.Sprintf("content already stored (%d chunks)", n)
			log.InfoContext(ctx, "skipping document", "reason", result.SkipReason)
			return result, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors, err := u.embedder.Embed(ctx, chunks)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, domain.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbedding, len(vectors), len(chunks))
	}

	// Last point at which cancellation leaves no trace.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uploadedAt := u.now()
	ingestID := uuid.New()
	records := make([]port.Record, len(chunks))
	for i, text := range chunks {
		records[i] = port.Record{
			ID:     uuid.NewSHA1(ingestID, []byte(strconv.Itoa(i))).String(),
			Text:   text,
			Vector: vectors[i],
			Metadata: map[string]string{
				domain.MetaSource:      name,
				domain.MetaUploadedAt:  uploadedAt.Format(domain.TimestampLayout),
				domain.MetaIngestID:    ingestID.String(),
				domain.MetaContentHash: hash,
				domain.MetaChunkIndex:  strconv.Itoa(i),
			},
		}
	}

	mctx := context.WithoutCancel(ctx)
	if err := u.store.Insert(mctx, records); err != nil {
		u.rollback(mctx, log, ingestID.String())
		return nil, wrapStore(err)
	}
	u.invalidate()

	sess.Record(domain.Document{Name: name, UploadedAt: uploadedAt, Chunks: len(chunks)})

	result.Chunks = len(chunks)
	result.UploadedAt = uploadedAt
	result.IngestID = ingestID.String()
	log.InfoContext(ctx, "ingested document", "chunks", len(chunks), "pages", len(pages), "ingest_id", result.IngestID)
	return result, nil
}

// JoinPages concatenates page texts in page order into one running text,
// so a chunk may span a page break. Blank pages are dropped.
func JoinPages(pages []string) string {
	kept := make([]string, 0, len(pages))
	for _, p := range pages {
		p = strings.TrimRightFunc(p, unicode.IsSpace)
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// IngestReader stages r to a temporary file and ingests it under name.
// The staged copy is removed afterwards.
func (u *IngestUseCase) IngestReader(ctx context.Context, sess *Session, name string, r io.Reader) (*IngestResult, error) {
	path, cleanup, err := fs.Stage(r, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	defer cleanup()

	return u.Ingest(ctx, sess, name, path)
}

// FileResult is the outcome for one file of a batch ingestion.
type FileResult struct {
	Path   string
	Result *IngestResult
	Err    error
}

// IngestDir ingests every file under root matching pattern, naming each
// document by its base name. A file whose name was already taken by an
// earlier file of the batch fails with ErrDuplicateName. A failing file does
// not stop the batch; only cancellation does. progress, if non-nil, is
// called after each file.
func (u *IngestUseCase) IngestDir(ctx context.Context, sess *Session, root, pattern string, progress func(FileResult)) ([]FileResult, error) {
	files, err := fs.NewWalker([]string{pattern}, fs.DefaultExcludes).Walk(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	results := make([]FileResult, 0, len(files))
	claimed := make(map[string]string, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		name := filepath.Base(f.Path)
		var fr FileResult
		if prev, ok := claimed[name]; ok {
			fr = FileResult{Path: f.Path, Err: fmt.Errorf("%w: %s is already used by %s", domain.ErrDuplicateName, name, prev)}
		} else {
			claimed[name] = f.Path
			res, err := u.Ingest(ctx, sess, name, f.Path)
			fr = FileResult{Path: f.Path, Result: res, Err: err}
		}
		if err := fr.Err; err != nil {
			u.logger.WarnContext(ctx, "ingest failed", "path", f.Path, "error", err)
		}
		results = append(results, fr)
		if progress != nil {
			progress(fr)
		}
	}
	return results, nil
}

// CountFiles returns how many files IngestDir would visit.
func (u *IngestUseCase) CountFiles(root, pattern string) (int, error) {
	files, err := fs.NewWalker([]string{pattern}, fs.DefaultExcludes).Walk(root)
	return len(files), err
}

// Delete removes every chunk whose source is name, including duplicates
// from earlier sessions, and forgets name in the session. Deleting a name
// with no chunks succeeds.
func (u *IngestUseCase) Delete(ctx context.Context, sess *Session, name string) (int, error) {
	n, err := u.store.Delete(ctx, domain.Where(domain.MetaSource, name))
	if err != nil {
		return 0, wrapStore(err)
	}
	if n > 0 {
		u.invalidate()
	}
	sess.Forget(name)

	u.logger.InfoContext(ctx, "deleted document", "source", name, "chunks", n)
	return n, nil
}

// Count returns how many stored chunks carry source name.
func (u *IngestUseCase) Count(ctx context.Context, name string) (int, error) {
	n, err := u.store.Count(ctx, domain.Where(domain.MetaSource, name))
	if err != nil {
		return 0, wrapStore(err)
	}
	return n, nil
}

func (u *IngestUseCase) rollback(ctx context.Context, log *slog.Logger, ingestID string) {
	n, err := u.store.Delete(ctx, domain.Where(domain.MetaIngestID, ingestID))
	if err != nil {
		log.ErrorContext(ctx, "rollback after failed insert did not complete; chunks may remain",
			"ingest_id", ingestID, "error", err)
		return
	}
	if n > 0 {
		log.WarnContext(ctx, "rolled back partial insert", "ingest_id", ingestID, "chunks", n)
		u.invalidate()
	}
}

func (u *IngestUseCase) invalidate() {
	for _, inv := range u.invalidators {
		inv.Invalidate()
	}
}

func wrapStore(err error) error {
	if errors.Is(err, domain.ErrStore) || errors.Is(err, domain.ErrDimensionMismatch) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStore, err)
}
