package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"go.uber.org/atomic"

	"github.com/hindsightci/hindsight/internal/store"
)

// ErrIndexNotReady is returned by Query before any build has succeeded.
// Distinct from an empty query result, which is a normal outcome.
var ErrIndexNotReady = errors.New("knowledge index not ready: collect PR history and build the index first")

// Index is the per-(owner, repo) searchable collection of embedded historical
// passages. Rebuilds replace the whole index; concurrent readers see either
// the fully-old or fully-new store, never a half-built one.
type Index struct {
	owner    string
	repo     string
	dir      string
	dims     int
	embedder Embedder
	logger   *logging.Logger

	ready atomic.Bool

	mu        sync.RWMutex // guards store, storePath, version
	store     *ragStore
	storePath string
	version   string
}

// NewIndex creates an index rooted at dir. No build happens until
// EnsureBuilt is called.
func NewIndex(owner, repo, dir string, dims int, embedder Embedder) *Index {
	return &Index{
		owner:    owner,
		repo:     repo,
		dir:      dir,
		dims:     dims,
		embedder: embedder,
		logger:   logging.GetLogger(),
	}
}

// Ready reports whether at least one build has completed successfully.
func (ix *Index) Ready() bool {
	return ix.ready.Load()
}

// Version returns the export fingerprint the current store was built from.
func (ix *Index) Version() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.version
}

// EnsureBuilt builds the index from records unless the current store was
// already built from the same export fingerprint. An unchanged fingerprint is
// a no-op: no re-embedding happens. A failed build leaves the previous store
// fully queryable and Ready unchanged.
func (ix *Index) EnsureBuilt(ctx context.Context, records []store.PRRecord, fingerprint string) error {
	if ix.ready.Load() && ix.Version() == fingerprint {
		ix.logger.Debug(ctx, "Index for %s/%s already at fingerprint %s, skipping rebuild",
			ix.owner, ix.repo, short(fingerprint))
		return nil
	}

	ix.logger.Info(ctx, "Building knowledge index for %s/%s from %d PRs",
		ix.owner, ix.repo, len(records))

	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	newPath := filepath.Join(ix.dir, fmt.Sprintf("index-%s.db", short(fingerprint)))
	// A stale file from an aborted build at the same fingerprint would leak
	// duplicate rows into the fresh store.
	_ = os.Remove(newPath)

	fresh, err := newRAGStore(newPath, ix.dims)
	if err != nil {
		return err
	}
	if err := ix.populate(ctx, fresh, records); err != nil {
		fresh.Close()
		_ = os.Remove(newPath)
		return err
	}

	ix.mu.Lock()
	old, oldPath := ix.store, ix.storePath
	ix.store = fresh
	ix.storePath = newPath
	ix.version = fingerprint
	ix.mu.Unlock()
	ix.ready.Store(true)

	if old != nil {
		old.Close()
		if oldPath != newPath {
			_ = os.Remove(oldPath)
		}
	}
	ix.logger.Info(ctx, "Knowledge index for %s/%s ready (fingerprint %s)",
		ix.owner, ix.repo, short(fingerprint))
	return nil
}

func (ix *Index) populate(ctx context.Context, dest *ragStore, records []store.PRRecord) error {
	sourcePath := fmt.Sprintf("%s/%s", ix.owner, ix.repo)
	for _, rec := range records {
		doc := ComposeDocument(rec)
		chunks := ChunkText(doc, DefaultChunkSize, DefaultChunkOverlap)
		for i, chunk := range chunks {
			embedding, err := ix.embedder.Embed(ctx, chunk)
			if err != nil {
				return fmt.Errorf("failed to embed PR #%d chunk %d: %w", rec.Number, i, err)
			}
			err = dest.StoreContent(ctx, &Content{
				ID:        fmt.Sprintf("pr-%d-chunk-%d", rec.Number, i),
				Text:      chunk,
				Embedding: embedding,
				Metadata: map[string]string{
					"pr_id":  strconv.Itoa(rec.Number),
					"source": sourcePath,
				},
			})
			if err != nil {
				return fmt.Errorf("failed to store PR #%d chunk %d: %w", rec.Number, i, err)
			}
		}
	}
	return nil
}

// Query returns up to k passages ranked by similarity to text. Fails with
// ErrIndexNotReady when no successful build has ever completed.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]Passage, error) {
	if !ix.ready.Load() {
		return nil, ErrIndexNotReady
	}
	embedding, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// The read lock spans the whole search: a rebuild swaps the store under
	// the write lock and closes the old one after, so a query in flight
	// always finishes against the store it started on.
	ix.mu.RLock()
	contents, err := ix.store.FindSimilar(ctx, embedding, k)
	ix.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	// Non-nil even when empty: "nothing retrieved" is a result, not an error.
	passages := make([]Passage, 0, len(contents))
	for _, c := range contents {
		prID, _ := strconv.Atoi(c.Metadata["pr_id"])
		passages = append(passages, Passage{
			Text:       c.Text,
			SourcePRID: prID,
			SourcePath: c.Metadata["source"],
		})
	}
	ix.logger.Debug(ctx, "Retrieved %d passages for %s/%s", len(passages), ix.owner, ix.repo)
	return passages, nil
}

// Close releases the current store, if any.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.store == nil {
		return nil
	}
	err := ix.store.Close()
	ix.store = nil
	return err
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
