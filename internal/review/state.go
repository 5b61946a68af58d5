// Package review implements the review orchestration workflow: an explicit
// state machine that routes a query, fetches live PR metadata, gates on
// reviewability, retrieves and grades historical context, generates a
// grounded narrative and falls back to a direct LLM review when retrieval or
// grounding fails.
package review

import (
	"github.com/hindsightci/hindsight/internal/knowledge"
)

// PRState is the lifecycle state of the pull request under review.
type PRState string

const (
	PRStateOpen    PRState = "open"
	PRStateClosed  PRState = "closed"
	PRStateMerged  PRState = "merged"
	PRStateUnknown PRState = "unknown"
)

// State is the single mutable record threaded through every workflow stage.
//
// Invariants:
//   - PRState == PRStateUnknown exactly when Err is set (fetch failed).
//   - Passages is non-nil once retrieval has run; empty means "nothing
//     relevant", not "not retrieved".
//   - Generation is written exactly once per terminal path and always
//     replaced whole, never partially.
type State struct {
	// RunID tags log lines of one workflow execution.
	RunID string

	// Query is the original user input: a PR URL or free text.
	Query string

	// Generation is the current best answer; terminal stages overwrite it.
	Generation string

	// Passages holds retrieved historical passages, shrunk by grading.
	Passages []knowledge.Passage

	PROwner       string
	PRRepo        string
	PRID          string
	PRTitle       string
	PRDescription string
	PRState       PRState
	PRDiff        string

	// BaseFilesDir is the local snapshot of pre-change file contents.
	BaseFilesDir string

	// Err records a fetch failure; it terminates at the validity gate with a
	// user-facing message rather than propagating.
	Err error
}
