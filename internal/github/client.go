// Package github wraps the GitHub API surface Hindsight needs: PR metadata,
// diffs, base-revision file snapshots and historical merged-PR collection.
package github

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// PRRef identifies a single pull request.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

var prURLPattern = regexp.MustCompile(`^https://github\.com/([\w.-]+)/([\w.-]+)/pull/(\d+)`)

// ParsePRURL extracts (owner, repo, number) from a GitHub pull request URL.
// Malformed URLs fail before any number parsing happens.
func ParsePRURL(raw string) (PRRef, error) {
	m := prURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return PRRef{}, fmt.Errorf("invalid PR URL format: %s", raw)
	}
	number, err := strconv.Atoi(m[3])
	if err != nil {
		return PRRef{}, fmt.Errorf("invalid PR number in URL %s: %w", raw, err)
	}
	return PRRef{Owner: m[1], Repo: m[2], Number: number}, nil
}

// IsPRURL reports whether raw looks like a supported pull request URL.
func IsPRURL(raw string) bool {
	return prURLPattern.MatchString(raw)
}

// PRDetails carries the metadata of a single pull request.
type PRDetails struct {
	Number int
	Title  string
	Body   string
	State  string // "open", "closed" or "merged"
}

// ReviewComment is one inline review comment with its thread position.
type ReviewComment struct {
	Path   string
	Line   int
	Author string
	Body   string
}

// PRComments groups the three comment classes attached to a pull request.
type PRComments struct {
	General []string        // top-level review bodies
	Issue   []string        // issue-style conversation comments
	Review  []ReviewComment // inline review comment threads
}

// Client is the source-hosting surface the review workflow and the collector
// consume. Implementations must be safe for concurrent use.
type Client interface {
	GetPRDetails(ctx context.Context, owner, repo string, number int) (*PRDetails, error)
	GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error)
	DownloadBaseFiles(ctx context.Context, owner, repo string, number int, destDir string) ([]string, error)
	ListMergedPRNumbers(ctx context.Context, owner, repo string) ([]int, error)
	GetPRComments(ctx context.Context, owner, repo string, number int) (*PRComments, error)
}

// Tools is the concrete GitHub API client.
type Tools struct {
	client *gogithub.Client
	logger *logging.Logger
}

// NewTools creates an authenticated GitHub client. An empty token yields an
// unauthenticated client subject to the anonymous rate limit.
func NewTools(token string) *Tools {
	var tc = oauth2.NewClient(context.Background(), nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc = oauth2.NewClient(context.Background(), ts)
	}
	return &Tools{
		client: gogithub.NewClient(tc),
		logger: logging.GetLogger(),
	}
}

// GetPRDetails retrieves title, description and state for a pull request.
// Merged PRs report state "merged" rather than GitHub's raw "closed".
func (t *Tools) GetPRDetails(ctx context.Context, owner, repo string, number int) (*PRDetails, error) {
	pr, _, err := t.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR %s/%s#%d: %w", owner, repo, number, err)
	}
	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}
	return &PRDetails{
		Number: number,
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		State:  state,
	}, nil
}

// GetPRDiff retrieves the unified diff text of a pull request.
func (t *Tools) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := t.client.PullRequests.GetRaw(ctx, owner, repo, number,
		gogithub.RawOptions{Type: gogithub.Diff})
	if err != nil {
		return "", fmt.Errorf("failed to get diff for %s/%s#%d: %w", owner, repo, number, err)
	}
	return diff, nil
}

// DownloadBaseFiles materializes the base-revision version of every file
// changed by the PR under destDir, preserving relative paths. Added files have
// no base version and are skipped. Any individual download failure fails the
// whole call; a partially written snapshot must not be mistaken for a complete
// one by the binary-only heuristic downstream.
func (t *Tools) DownloadBaseFiles(ctx context.Context, owner, repo string, number int, destDir string) ([]string, error) {
	pr, _, err := t.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR %s/%s#%d: %w", owner, repo, number, err)
	}
	baseSHA := pr.GetBase().GetSHA()

	files, err := t.listPRFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, file := range files {
		if file.GetStatus() == "added" {
			continue
		}
		path := file.GetFilename()
		if file.GetStatus() == "renamed" && file.GetPreviousFilename() != "" {
			path = file.GetPreviousFilename()
		}
		content, err := t.fileContentAt(ctx, owner, repo, path, baseSHA)
		if err != nil {
			return nil, fmt.Errorf("failed to download base file %s: %w", path, err)
		}
		dest := filepath.Join(destDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write snapshot file %s: %w", dest, err)
		}
		written = append(written, dest)
	}
	t.logger.Debug(ctx, "Downloaded %d base files for %s/%s#%d", len(written), owner, repo, number)
	return written, nil
}

func (t *Tools) listPRFiles(ctx context.Context, owner, repo string, number int) ([]*gogithub.CommitFile, error) {
	var all []*gogithub.CommitFile
	opts := &gogithub.ListOptions{PerPage: 100}
	for {
		files, resp, err := t.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list PR files: %w", err)
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (t *Tools) fileContentAt(ctx context.Context, owner, repo, path, ref string) (string, error) {
	content, _, resp, err := t.client.Repositories.GetContents(ctx, owner, repo, path,
		&gogithub.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return "", fmt.Errorf("file not found at %s: %s", ref, path)
		}
		return "", err
	}
	if content == nil {
		return "", fmt.Errorf("no content available for %s", path)
	}
	return content.GetContent()
}

// ListMergedPRNumbers returns the numbers of all merged pull requests,
// newest first.
func (t *Tools) ListMergedPRNumbers(ctx context.Context, owner, repo string) ([]int, error) {
	var numbers []int
	opts := &gogithub.PullRequestListOptions{
		State:       "closed",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := t.client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list PRs for %s/%s: %w", owner, repo, err)
		}
		for _, pr := range prs {
			if pr.MergedAt != nil {
				numbers = append(numbers, pr.GetNumber())
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return numbers, nil
}

// GetPRComments fetches general review bodies, issue comments and inline
// review comments for a pull request.
func (t *Tools) GetPRComments(ctx context.Context, owner, repo string, number int) (*PRComments, error) {
	comments := &PRComments{}

	reviews, _, err := t.client.PullRequests.ListReviews(ctx, owner, repo, number,
		&gogithub.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for #%d: %w", number, err)
	}
	for _, review := range reviews {
		if body := review.GetBody(); body != "" {
			comments.General = append(comments.General, body)
		}
	}

	issueComments, _, err := t.client.Issues.ListComments(ctx, owner, repo, number,
		&gogithub.IssueListCommentsOptions{ListOptions: gogithub.ListOptions{PerPage: 100}})
	if err != nil {
		return nil, fmt.Errorf("failed to list issue comments for #%d: %w", number, err)
	}
	for _, c := range issueComments {
		if body := c.GetBody(); body != "" {
			comments.Issue = append(comments.Issue, body)
		}
	}

	opts := &gogithub.PullRequestListCommentsOptions{ListOptions: gogithub.ListOptions{PerPage: 100}}
	for {
		reviewComments, resp, err := t.client.PullRequests.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list review comments for #%d: %w", number, err)
		}
		for _, c := range reviewComments {
			line := c.GetLine()
			if line == 0 {
				line = c.GetOriginalLine()
			}
			comments.Review = append(comments.Review, ReviewComment{
				Path:   c.GetPath(),
				Line:   line,
				Author: c.GetUser().GetLogin(),
				Body:   c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return comments, nil
}
