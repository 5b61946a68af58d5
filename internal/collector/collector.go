// Package collector harvests the merged-PR review history of a repository
// into its local export store.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"golang.org/x/sync/errgroup"

	"github.com/hindsightci/hindsight/internal/config"
	"github.com/hindsightci/hindsight/internal/github"
	"github.com/hindsightci/hindsight/internal/store"
)

// Collector fetches every merged PR of one repository and replaces the
// export store's contents with the result.
type Collector struct {
	gh      github.Client
	workers int
	logger  *logging.Logger
}

func New(gh github.Client) *Collector {
	return &Collector{
		gh:      gh,
		workers: config.GetCollectWorkers(),
		logger:  logging.GetLogger(),
	}
}

// Collect lists the merged PRs of owner/repo, fetches each one's metadata,
// diff and comments concurrently, and saves the complete set. Any single PR
// failure aborts the collection; the previous export stays intact because
// SaveExport only runs on full success.
func (c *Collector) Collect(ctx context.Context, owner, repo string, dest *store.ExportStore) (int, error) {
	numbers, err := c.gh.ListMergedPRNumbers(ctx, owner, repo)
	if err != nil {
		return 0, fmt.Errorf("listing merged PRs for %s/%s: %w", owner, repo, err)
	}
	c.logger.Info(ctx, "collecting %d merged PRs from %s/%s", len(numbers), owner, repo)

	var mu sync.Mutex
	records := make([]store.PRRecord, 0, len(numbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, number := range numbers {
		number := number
		g.Go(func() error {
			rec, err := c.fetchPR(gctx, owner, repo, number)
			if err != nil {
				return err
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Fetch order is nondeterministic under concurrency; the export and its
	// fingerprint must not be.
	sort.Slice(records, func(i, j int) bool { return records[i].Number < records[j].Number })

	if err := dest.SaveExport(ctx, records); err != nil {
		return 0, fmt.Errorf("saving export for %s/%s: %w", owner, repo, err)
	}
	return len(records), nil
}

func (c *Collector) fetchPR(ctx context.Context, owner, repo string, number int) (store.PRRecord, error) {
	details, err := c.gh.GetPRDetails(ctx, owner, repo, number)
	if err != nil {
		return store.PRRecord{}, fmt.Errorf("fetching PR #%d: %w", number, err)
	}
	diff, err := c.gh.GetPRDiff(ctx, owner, repo, number)
	if err != nil {
		return store.PRRecord{}, fmt.Errorf("fetching diff for PR #%d: %w", number, err)
	}
	comments, err := c.gh.GetPRComments(ctx, owner, repo, number)
	if err != nil {
		return store.PRRecord{}, fmt.Errorf("fetching comments for PR #%d: %w", number, err)
	}

	rec := store.PRRecord{
		Number:          number,
		Title:           details.Title,
		Description:     details.Body,
		CodeChanges:     diff,
		GeneralComments: comments.General,
		IssueComments:   comments.Issue,
	}
	for _, rc := range comments.Review {
		rec.ReviewComments = append(rec.ReviewComments, store.ReviewThreadComment{
			FilePath: rc.Path,
			Line:     rc.Line,
			Author:   rc.Author,
			Body:     rc.Body,
		})
	}
	return rec, nil
}
