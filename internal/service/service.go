// Package service coordinates per-repository stores, indexes and review
// workflows behind a single façade.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/hindsightci/hindsight/internal/collector"
	"github.com/hindsightci/hindsight/internal/config"
	"github.com/hindsightci/hindsight/internal/github"
	"github.com/hindsightci/hindsight/internal/knowledge"
	"github.com/hindsightci/hindsight/internal/review"
	"github.com/hindsightci/hindsight/internal/store"
)

var (
	// ErrNotReady reports that a repository has no collected PR history yet.
	ErrNotReady = errors.New("repository history not collected yet: run a collection first")
	// ErrCollectInProgress reports that a collection for the same repository
	// is already running.
	ErrCollectInProgress = errors.New("collection already in progress for this repository")
)

// repoEntry bundles the per-repository resources. Entries are created on
// first use and live for the process lifetime.
type repoEntry struct {
	store *store.ExportStore
	index *knowledge.Index

	// buildMu serializes index builds for this repository; queries proceed
	// concurrently against the last built index.
	buildMu sync.Mutex

	collecting atomic.Bool
	rebuilding atomic.Bool
}

// Status is a snapshot of one repository's readiness.
type Status struct {
	HasExport  bool
	IndexReady bool
	Collecting bool
	Rebuilding bool
}

// Service owns all per-repository state and exposes the two top-level
// operations: collecting review history and answering queries. Safe for
// concurrent use; collection and rebuild are single-flight per repository
// and capped globally.
type Service struct {
	gh       github.Client
	llm      review.LLMClient
	embedder knowledge.Embedder
	dataDir  string
	dims     int

	mu    sync.Mutex
	repos map[string]*repoEntry

	collectSem *semaphore.Weighted
	rebuildSem *semaphore.Weighted

	logger *logging.Logger
}

func New(gh github.Client, llm review.LLMClient, embedder knowledge.Embedder, dataDir string) *Service {
	return &Service{
		gh:         gh,
		llm:        llm,
		embedder:   embedder,
		dataDir:    dataDir,
		dims:       config.GetVectorDimensions(),
		repos:      make(map[string]*repoEntry),
		collectSem: semaphore.NewWeighted(int64(config.GetCollectJobs())),
		rebuildSem: semaphore.NewWeighted(int64(config.GetRebuildJobs())),
		logger:     logging.GetLogger(),
	}
}

func (s *Service) entry(owner, repo string) (*repoEntry, error) {
	key := owner + "/" + repo
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.repos[key]; ok {
		return e, nil
	}

	repoDir := filepath.Join(s.dataDir, owner, repo)
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir for %s: %w", key, err)
	}
	st, err := store.Open(filepath.Join(repoDir, "export.db"))
	if err != nil {
		return nil, fmt.Errorf("opening export store for %s: %w", key, err)
	}
	e := &repoEntry{
		store: st,
		index: knowledge.NewIndex(owner, repo, filepath.Join(repoDir, "index"), s.dims, s.embedder),
	}
	s.repos[key] = e
	return e, nil
}

// Collect harvests the merged-PR history of owner/repo into its export
// store. Single-flight per repository; concurrent collections across
// repositories are capped process-wide.
func (s *Service) Collect(ctx context.Context, owner, repo string) (int, error) {
	e, err := s.entry(owner, repo)
	if err != nil {
		return 0, err
	}
	if !e.collecting.CAS(false, true) {
		return 0, ErrCollectInProgress
	}
	defer e.collecting.Store(false)

	if err := s.collectSem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer s.collectSem.Release(1)

	return collector.New(s.gh).Collect(ctx, owner, repo, e.store)
}

// Answer runs one review workflow turn for owner/repo, building or rebuilding
// the knowledge index first when the collected history changed.
func (s *Service) Answer(ctx context.Context, owner, repo, query string) (*review.State, error) {
	e, err := s.entry(owner, repo)
	if err != nil {
		return nil, err
	}
	if !e.store.HasExport(ctx) {
		return nil, ErrNotReady
	}
	if err := s.ensureBuilt(ctx, e); err != nil {
		return nil, err
	}

	w := review.NewWorkflow(s.llm, s.gh, e.index, s.dataDir)
	return w.Run(ctx, query)
}

// ensureBuilt brings the index in line with the stored export. A no-op when
// the index already reflects the export's fingerprint.
func (s *Service) ensureBuilt(ctx context.Context, e *repoEntry) error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	fp, err := e.store.StoredFingerprint(ctx)
	if err != nil {
		return err
	}
	if e.index.Ready() && e.index.Version() == fp {
		return nil
	}

	if err := s.rebuildSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.rebuildSem.Release(1)

	e.rebuilding.Store(true)
	defer e.rebuilding.Store(false)

	records, err := e.store.LoadExport(ctx)
	if err != nil {
		return err
	}
	return e.index.EnsureBuilt(ctx, records, fp)
}

// RepoStatus reports the current readiness of one repository.
func (s *Service) RepoStatus(ctx context.Context, owner, repo string) (Status, error) {
	e, err := s.entry(owner, repo)
	if err != nil {
		return Status{}, err
	}
	return Status{
		HasExport:  e.store.HasExport(ctx),
		IndexReady: e.index.Ready(),
		Collecting: e.collecting.Load(),
		Rebuilding: e.rebuilding.Load(),
	}, nil
}

// Close releases every open store and index.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, e := range s.repos {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing store for %s: %w", key, err)
		}
		if err := e.index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing index for %s: %w", key, err)
		}
	}
	return firstErr
}
