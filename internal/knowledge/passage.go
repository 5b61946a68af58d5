// Package knowledge maintains the per-repository index of historical PR
// passages used to ground review generation.
package knowledge

import (
	"fmt"
	"strings"

	"github.com/hindsightci/hindsight/internal/store"
)

// Markers wrapping the review-comment section of a composite PR document.
// Retrieval prefers passages that carry a complete marked section, so the
// exact strings are part of the stored document format.
const (
	ReviewCommentsStart = "## REVIEW COMMENTS START ##"
	ReviewCommentsEnd   = "## REVIEW COMMENTS END ##"
)

// Passage is one retrievable chunk of historical PR text with provenance.
// Immutable once indexed; its lifecycle is tied to the index build that
// created it.
type Passage struct {
	Text       string
	SourcePRID int
	SourcePath string
}

// HasReviewComments reports whether the passage contains a complete marked
// review-comment section.
func (p Passage) HasReviewComments() bool {
	return strings.Contains(p.Text, ReviewCommentsStart) &&
		strings.Contains(p.Text, ReviewCommentsEnd)
}

// ComposeDocument assembles one composite document for a stored PR: title,
// description, code diff, general and issue comments, and every review
// thread tagged with its file path and line number.
func ComposeDocument(rec store.PRRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PR ID: %d\n", rec.Number)
	if rec.Title != "" {
		fmt.Fprintf(&b, "Title:\n%s\n\n", rec.Title)
	}
	if rec.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n\n", rec.Description)
	}
	if rec.CodeChanges != "" {
		fmt.Fprintf(&b, "Code Changes:\n%s\n\n", rec.CodeChanges)
	}
	if len(rec.GeneralComments) > 0 {
		fmt.Fprintf(&b, "General Comments:\n%s\n\n", strings.Join(rec.GeneralComments, "\n"))
	}
	if len(rec.IssueComments) > 0 {
		fmt.Fprintf(&b, "Issue Comments:\n%s\n\n", strings.Join(rec.IssueComments, "\n"))
	}
	if len(rec.ReviewComments) > 0 {
		b.WriteString(ReviewCommentsStart + "\n")
		for i, c := range rec.ReviewComments {
			if i > 0 {
				b.WriteString("---\n")
			}
			fmt.Fprintf(&b, "[%s:%d] %s: %s\n", c.FilePath, c.Line, c.Author, c.Body)
		}
		b.WriteString(ReviewCommentsEnd + "\n")
	}
	return b.String()
}

// PreferCommentBearing narrows candidates to passages that carry a marked
// review-comment section, up to max. When no candidate has one, the top max
// of the unfiltered set are returned instead: a comment-bearing passage is
// strictly more useful for "did we see this mistake before" analysis.
func PreferCommentBearing(candidates []Passage, max int) []Passage {
	preferred := make([]Passage, 0, max)
	for _, p := range candidates {
		if p.HasReviewComments() {
			preferred = append(preferred, p)
			if len(preferred) == max {
				return preferred
			}
		}
	}
	if len(preferred) > 0 {
		return preferred
	}
	if len(candidates) > max {
		return candidates[:max]
	}
	return candidates
}
