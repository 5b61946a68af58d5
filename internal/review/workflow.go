package review

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/google/uuid"

	"github.com/hindsightci/hindsight/internal/config"
	"github.com/hindsightci/hindsight/internal/github"
	"github.com/hindsightci/hindsight/internal/knowledge"
)

// Terminal messages shown when the validity gate stops a run early.
const (
	MsgPRNotOpen  = "PR is not open, no review needed."
	MsgBinaryOnly = "PR only contains binary file changes, no review needed."
)

const (
	// maxSearchDiffLines caps how many changed lines seed the similarity query.
	maxSearchDiffLines = 30
	// maxQuestionDiffLines caps the diff excerpt embedded in the generation
	// question, the full diff stays available to grading.
	maxQuestionDiffLines = 20
	// preferredPassages is how many passages survive comment-bearing selection.
	preferredPassages = 2
)

// Workflow node names, used only for logging step transitions.
const (
	nodeRoute         = "route"
	nodeGeneralAnswer = "general_answer"
	nodeGetPR         = "get_pr"
	nodeCheckPRState  = "check_pr_state"
	nodeRetrieve      = "retrieve"
	nodeGradePassages = "grade_passages"
	nodeGenerate      = "generate"
	nodeCheckGrounded = "check_grounding"
	nodeDirectReview  = "direct_review"
	nodeEnd           = "end"
)

// Retriever is the similarity-search surface the workflow consumes.
// *knowledge.Index satisfies it.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]knowledge.Passage, error)
}

// Workflow runs one review conversation turn: route the query, fetch and gate
// the PR, retrieve and grade historical passages, generate a grounded answer,
// and fall back to a direct review when grounding fails or retrieval comes up
// empty. A Workflow is stateless across runs; all per-run data lives in State.
type Workflow struct {
	llm        LLMClient
	gh         github.Client
	retriever  Retriever
	baseDir    string
	retrievalK int
	logger     *logging.Logger
}

// NewWorkflow wires a workflow over its collaborators. baseDir is the local
// root under which pre-change file snapshots are checked out.
func NewWorkflow(llm LLMClient, gh github.Client, retriever Retriever, baseDir string) *Workflow {
	return &Workflow{
		llm:        llm,
		gh:         gh,
		retriever:  retriever,
		baseDir:    baseDir,
		retrievalK: config.GetRetrievalK(),
		logger:     logging.GetLogger(),
	}
}

// Run executes the state machine for one query and returns the final state.
// The returned error covers infrastructure failures only (LLM calls,
// retrieval); PR fetch failures terminate with a user-facing message in
// State.Generation instead.
func (w *Workflow) Run(ctx context.Context, query string) (*State, error) {
	state := &State{
		RunID: uuid.New().String(),
		Query: query,
	}
	w.logger.Info(ctx, "run %s: routing query", state.RunID)

	route, err := w.llm.Route(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("routing query: %w", err)
	}

	if route == RouteGeneral {
		w.step(ctx, state, nodeRoute, nodeGeneralAnswer)
		answer, err := w.llm.AnswerGeneral(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("answering general question: %w", err)
		}
		state.Generation = answer
		w.step(ctx, state, nodeGeneralAnswer, nodeEnd)
		return state, nil
	}

	w.step(ctx, state, nodeRoute, nodeGetPR)
	w.fetchPR(ctx, state)

	w.step(ctx, state, nodeGetPR, nodeCheckPRState)
	if msg, stop := w.gatePR(state); stop {
		state.Generation = msg
		w.step(ctx, state, nodeCheckPRState, nodeEnd)
		return state, nil
	}

	w.step(ctx, state, nodeCheckPRState, nodeRetrieve)
	if err := w.retrieve(ctx, state); err != nil {
		return nil, err
	}

	w.step(ctx, state, nodeRetrieve, nodeGradePassages)
	if err := w.gradePassages(ctx, state); err != nil {
		return nil, err
	}

	if len(state.Passages) == 0 {
		w.logger.Info(ctx, "run %s: no relevant history, reviewing from scratch", state.RunID)
		w.step(ctx, state, nodeGradePassages, nodeDirectReview)
		if err := w.directReview(ctx, state); err != nil {
			return nil, err
		}
		w.step(ctx, state, nodeDirectReview, nodeEnd)
		return state, nil
	}

	w.step(ctx, state, nodeGradePassages, nodeGenerate)
	if err := w.generate(ctx, state); err != nil {
		return nil, err
	}

	w.step(ctx, state, nodeGenerate, nodeCheckGrounded)
	grounded, err := w.llm.GradeGrounding(ctx, w.question(state), passageContext(state.Passages), state.Generation)
	if err != nil {
		return nil, fmt.Errorf("grading grounding: %w", err)
	}
	if !grounded {
		w.logger.Warn(ctx, "run %s: generation not grounded in history, reviewing from scratch", state.RunID)
		w.step(ctx, state, nodeCheckGrounded, nodeDirectReview)
		if err := w.directReview(ctx, state); err != nil {
			return nil, err
		}
		w.step(ctx, state, nodeDirectReview, nodeEnd)
		return state, nil
	}
	w.step(ctx, state, nodeCheckGrounded, nodeEnd)
	return state, nil
}

func (w *Workflow) step(ctx context.Context, state *State, from, to string) {
	w.logger.Debug(ctx, "run %s: %s -> %s", state.RunID, from, to)
}

// fetchPR resolves the query to a PR and loads its metadata, diff and base
// file snapshot. Any failure is recorded on the state for the validity gate;
// fetch errors never abort a run.
func (w *Workflow) fetchPR(ctx context.Context, state *State) {
	ref, err := github.ParsePRURL(state.Query)
	if err != nil {
		state.PRState = PRStateUnknown
		state.Err = err
		return
	}
	state.PROwner = ref.Owner
	state.PRRepo = ref.Repo
	state.PRID = strconv.Itoa(ref.Number)

	details, err := w.gh.GetPRDetails(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		state.PRState = PRStateUnknown
		state.Err = fmt.Errorf("fetching PR %s: %w", ref, err)
		return
	}
	state.PRTitle = details.Title
	state.PRDescription = details.Body
	state.PRState = prStateOf(details.State)

	if state.PRState != PRStateOpen {
		return
	}

	diff, err := w.gh.GetPRDiff(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		state.PRState = PRStateUnknown
		state.Err = fmt.Errorf("fetching diff for PR %s: %w", ref, err)
		return
	}
	state.PRDiff = diff

	destDir := filepath.Join(w.baseDir, ref.Owner, ref.Repo, "base_code", state.PRID)
	if _, err := w.gh.DownloadBaseFiles(ctx, ref.Owner, ref.Repo, ref.Number, destDir); err != nil {
		state.PRState = PRStateUnknown
		state.Err = fmt.Errorf("downloading base files for PR %s: %w", ref, err)
		return
	}
	state.BaseFilesDir = destDir
}

func prStateOf(s string) PRState {
	switch s {
	case "open":
		return PRStateOpen
	case "closed":
		return PRStateClosed
	case "merged":
		return PRStateMerged
	default:
		return PRStateUnknown
	}
}

// gatePR decides whether the run terminates before any retrieval work. It
// returns the terminal message and true when the PR is unusable.
func (w *Workflow) gatePR(state *State) (string, bool) {
	if state.Err != nil {
		return fmt.Sprintf("Could not review this PR: %v", state.Err), true
	}
	if state.PRState != PRStateOpen {
		return MsgPRNotOpen, true
	}
	if w.binaryOnly(state) {
		return MsgBinaryOnly, true
	}
	return "", false
}

// binaryOnly reports whether every changed file in the diff is binary: git
// renders binary hunks as "Binary files ... differ" lines, so the PR is
// binary-only when that count matches the number of files in the snapshot.
func (w *Workflow) binaryOnly(state *State) bool {
	binary := strings.Count(state.PRDiff, "Binary files")
	if binary == 0 {
		return false
	}
	total := 0
	_ = filepath.WalkDir(state.BaseFilesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			total++
		}
		return nil
	})
	return total > 0 && binary >= total
}

func (w *Workflow) retrieve(ctx context.Context, state *State) error {
	query := searchQuery(state)
	candidates, err := w.retriever.Query(ctx, query, w.retrievalK)
	if err != nil {
		return fmt.Errorf("retrieving passages: %w", err)
	}
	state.Passages = knowledge.PreferCommentBearing(candidates, preferredPassages)
	w.logger.Info(ctx, "run %s: retrieved %d passages (%d candidates)",
		state.RunID, len(state.Passages), len(candidates))
	return nil
}

// searchQuery builds the similarity-search text from the changed lines of the
// diff plus the PR title and description. Context lines are noise for
// retrieval, so only additions, deletions and hunk headers are kept.
func searchQuery(state *State) string {
	var changed []string
	for _, line := range strings.Split(state.PRDiff, "\n") {
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "@@") {
			changed = append(changed, line)
			if len(changed) >= maxSearchDiffLines {
				break
			}
		}
	}
	var b strings.Builder
	b.WriteString(state.PRTitle)
	b.WriteString("\n")
	b.WriteString(state.PRDescription)
	b.WriteString("\n")
	b.WriteString(strings.Join(changed, "\n"))
	return b.String()
}

// gradePassages keeps only passages an LLM judge finds relevant to the diff.
// This filters, never aborts: an empty result routes to the direct reviewer.
func (w *Workflow) gradePassages(ctx context.Context, state *State) error {
	kept := make([]knowledge.Passage, 0, len(state.Passages))
	for _, p := range state.Passages {
		relevant, err := w.llm.GradeRelevance(ctx, state.PRDiff, p.Text)
		if err != nil {
			return fmt.Errorf("grading passage relevance: %w", err)
		}
		if relevant {
			kept = append(kept, p)
		}
	}
	w.logger.Info(ctx, "run %s: %d of %d passages relevant", state.RunID, len(kept), len(state.Passages))
	state.Passages = kept
	return nil
}

func (w *Workflow) generate(ctx context.Context, state *State) error {
	generation, err := w.llm.Generate(ctx, passageContext(state.Passages), w.question(state))
	if err != nil {
		return fmt.Errorf("generating review: %w", err)
	}
	state.Generation = generation
	return nil
}

// passageContext formats retrieved passages for the generator, tagging each
// with its source PR so citations can name it.
func passageContext(passages []knowledge.Passage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, fmt.Sprintf("PR ID: %d\n%s", p.SourcePRID, p.Text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// question phrases the generation task over a bounded diff excerpt.
func (w *Workflow) question(state *State) string {
	lines := strings.Split(state.PRDiff, "\n")
	if len(lines) > maxQuestionDiffLines {
		lines = lines[:maxQuestionDiffLines]
	}
	return fmt.Sprintf(
		"Review the following pull request change based on past review history.\n\nTitle: %s\n\nDescription: %s\n\nDiff excerpt:\n%s",
		state.PRTitle, state.PRDescription, strings.Join(lines, "\n"))
}

// directReview critiques the PR from its own base files and diff, with no
// dependence on retrieved history.
func (w *Workflow) directReview(ctx context.Context, state *State) error {
	original, err := readBaseFiles(state.BaseFilesDir)
	if err != nil {
		return fmt.Errorf("reading base files: %w", err)
	}
	result, err := w.llm.DirectReview(ctx, DirectReviewRequest{
		Question:            w.question(state),
		PRTitle:             state.PRTitle,
		OriginalFileContent: original,
		CodeDiff:            state.PRDiff,
	})
	if err != nil {
		return fmt.Errorf("direct review: %w", err)
	}
	state.Generation = FormatMindmap(result)
	return nil
}

// readBaseFiles concatenates the snapshot of pre-change file contents,
// headed by their repo-relative paths.
func readBaseFiles(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	var b strings.Builder
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		fmt.Fprintf(&b, "// File: %s\n%s\n\n", rel, data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
