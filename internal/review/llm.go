package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/XiaoConstantine/dspy-go/pkg/modules"
)

// RouteKind is the router's binary classification of an incoming query.
type RouteKind string

const (
	RouteGeneral  RouteKind = "general"
	RoutePRReview RouteKind = "pr_review"
)

// DirectReviewRequest carries the inputs of an ungrounded direct review.
type DirectReviewRequest struct {
	Question            string
	PRTitle             string
	OriginalFileContent string
	CodeDiff            string
}

// LLMClient is the set of prompt roles the workflow needs. Each call is a
// single LLM invocation with no internal retry; judgment failures surface as
// errors to the caller.
type LLMClient interface {
	// Route classifies a query as PR-review-shaped or general.
	Route(ctx context.Context, query string) (RouteKind, error)
	// GradeRelevance judges one retrieved passage against the current code
	// change, independently of any other passage.
	GradeRelevance(ctx context.Context, codeDiff, passage string) (bool, error)
	// Generate produces a narrative grounded in the supplied passage context.
	Generate(ctx context.Context, passageContext, question string) (string, error)
	// GradeGrounding reports whether generation is supported by the passages.
	GradeGrounding(ctx context.Context, question, passages, generation string) (bool, error)
	// DirectReview critiques the PR from its own files and diff alone.
	DirectReview(ctx context.Context, req DirectReviewRequest) (*ReviewResult, error)
	// AnswerGeneral answers a non-PR knowledge question.
	AnswerGeneral(ctx context.Context, question string) (string, error)
}

// Client implements LLMClient on top of the process-wide configured dspy LLM.
type Client struct {
	logger *logging.Logger
}

// NewClient returns the default LLM-backed client.
func NewClient() *Client {
	return &Client{logger: logging.GetLogger()}
}

func (c *Client) Route(ctx context.Context, query string) (RouteKind, error) {
	signature := core.NewSignature(
		[]core.InputField{
			{Field: core.Field{Name: "question"}},
		},
		[]core.OutputField{
			{Field: core.NewField("datasource")},
		},
	).WithInstruction(`You are an expert at routing a user query to the most appropriate handler.
Determine whether the query is about a GitHub Pull Request (PR) or a general question.

Answer "pr_review" if the query:
- Contains a GitHub PR URL (e.g. "https://github.com/org/repo/pull/123")
- Mentions a specific PR by number (e.g. "PR #123", "Pull Request 456")
- Asks about code changes, review comments, or details of a specific PR

Answer "general" if the query:
- Is a general question not related to any specific GitHub PR
- Asks about concepts, theories, or general knowledge

Respond with exactly one of: pr_review, general.`)

	predict := modules.NewPredict(signature)
	result, err := predict.Process(ctx, map[string]interface{}{
		"question": query,
	})
	if err != nil {
		return "", fmt.Errorf("route classification failed: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(toString(fieldOf(result, "datasource"))))
	switch answer {
	case "pr_review":
		return RoutePRReview, nil
	case "general", "general_question":
		return RouteGeneral, nil
	default:
		return "", fmt.Errorf("route classification produced invalid answer %q", answer)
	}
}

func (c *Client) GradeRelevance(ctx context.Context, codeDiff, passage string) (bool, error) {
	signature := core.NewSignature(
		[]core.InputField{
			{Field: core.Field{Name: "document"}},
			{Field: core.Field{Name: "question"}},
		},
		[]core.OutputField{
			{Field: core.NewField("binary_score")},
		},
	).WithInstruction(`You are a grader assessing relevance of a retrieved document to a code change.
If the document contains keywords or semantic meaning related to the code change, grade it as relevant.
This is not a stringent test; the goal is only to filter out erroneous retrievals.
Give a binary score "yes" or "no" to indicate whether the document is relevant.`)

	predict := modules.NewPredict(signature)
	result, err := predict.Process(ctx, map[string]interface{}{
		"document": passage,
		"question": codeDiff,
	})
	if err != nil {
		return false, fmt.Errorf("relevance grading failed: %w", err)
	}
	return parseBinaryScore(result)
}

func (c *Client) Generate(ctx context.Context, passageContext, question string) (string, error) {
	signature := core.NewSignature(
		[]core.InputField{
			{Field: core.Field{Name: "context"}},
			{Field: core.Field{Name: "question"}},
		},
		[]core.OutputField{
			{Field: core.NewField("answer")},
		},
	).WithInstruction(`You are an assistant answering questions about code review history.
Use only the provided context of historical pull request passages to answer.
When referencing any historical review comment, always cite the historical PR
it was extracted from, for example: From PR #123: "...".
If the context does not support an answer, say so rather than inventing one.`)

	predict := modules.NewPredict(signature)
	result, err := predict.Process(ctx, map[string]interface{}{
		"context":  passageContext,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("grounded generation failed: %w", err)
	}
	answer := toString(fieldOf(result, "answer"))
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("grounded generation produced empty answer")
	}
	return answer, nil
}

func (c *Client) GradeGrounding(ctx context.Context, question, passages, generation string) (bool, error) {
	signature := core.NewSignature(
		[]core.InputField{
			{Field: core.Field{Name: "documents"}},
			{Field: core.Field{Name: "generation"}},
			{Field: core.Field{Name: "question"}},
		},
		[]core.OutputField{
			{Field: core.NewField("binary_score")},
		},
	).WithInstruction(`You are a highly precise fact-checker identifying hallucinations in LLM-generated content.
Determine whether the generation is fully grounded in the given set of retrieved facts.

A hallucination is information that is not explicitly stated in the facts,
cannot be reasonably inferred from them, or contradicts them.

Answer "yes" when every factual statement in the generation can be found in or
logically inferred from the facts and is relevant to the question.
Answer "no" when the generation contains at least one unsupported claim.
Pay special attention to names, numbers, technical details and specific claims.
Respond with only "yes" or "no".`)

	predict := modules.NewPredict(signature)
	result, err := predict.Process(ctx, map[string]interface{}{
		"documents":  passages,
		"generation": generation,
		"question":   question,
	})
	if err != nil {
		return false, fmt.Errorf("hallucination grading failed: %w", err)
	}
	return parseBinaryScore(result)
}

func (c *Client) DirectReview(ctx context.Context, req DirectReviewRequest) (*ReviewResult, error) {
	signature := core.NewSignature(
		[]core.InputField{
			{Field: core.Field{Name: "question"}},
			{Field: core.Field{Name: "pr_title"}},
			{Field: core.Field{Name: "original_file_content"}},
			{Field: core.Field{Name: "code_diff"}},
		},
		[]core.OutputField{
			{Field: core.NewField("overall_evaluation")},
			{Field: core.NewField("specific_issues")},
			{Field: core.NewField("improvement_suggestions")},
			{Field: core.NewField("code_examples")},
		},
	).WithInstruction(`Act as an experienced software engineer reviewing the given code change.
Analyze the quality of the change, potential issues and areas for improvement:
1. Change purpose: what problem does it solve, is the intent clear and reasonable?
2. Implementation: does it follow best practices, is there a simpler approach,
   is the style consistent with the rest of the file?
3. Potential issues: bugs, logical errors, performance, security and
   maintainability risks, missing boundary and error handling.
4. Readability and maintainability: naming, comments, structure.
5. Compatibility: effects on existing functionality, new dependencies.
6. Test coverage: does the change need new or updated tests?

Provide:
- overall_evaluation: a brief summary of your overall view of the change
- specific_issues: a list of identified issues with line numbers and snippets
- improvement_suggestions: a list with one concrete suggestion per issue
- code_examples: optional list of improved code examples`)

	predict := modules.NewPredict(signature)
	result, err := predict.Process(ctx, map[string]interface{}{
		"question":              req.Question,
		"pr_title":              req.PRTitle,
		"original_file_content": req.OriginalFileContent,
		"code_diff":             req.CodeDiff,
	})
	if err != nil {
		return nil, fmt.Errorf("direct review failed: %w", err)
	}

	review := &ReviewResult{
		OverallEvaluation:      toString(fieldOf(result, "overall_evaluation")),
		SpecificIssues:         coerceStringList(fieldOf(result, "specific_issues")),
		ImprovementSuggestions: coerceStringList(fieldOf(result, "improvement_suggestions")),
		CodeExamples:           coerceStringList(fieldOf(result, "code_examples")),
	}
	if strings.TrimSpace(review.OverallEvaluation) == "" {
		return nil, fmt.Errorf("direct review produced empty evaluation")
	}
	return review, nil
}

func (c *Client) AnswerGeneral(ctx context.Context, question string) (string, error) {
	signature := core.NewSignature(
		[]core.InputField{
			{Field: core.Field{Name: "question"}},
		},
		[]core.OutputField{
			{Field: core.NewField("answer")},
		},
	).WithInstruction(`You are an AI assistant that provides comprehensive and accurate answers.
Your answers should be clear, concise, and based on your knowledge.
If you do not know the answer, simply state that you do not know.`)

	predict := modules.NewPredict(signature)
	result, err := predict.Process(ctx, map[string]interface{}{
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("general answer failed: %w", err)
	}
	answer := toString(fieldOf(result, "answer"))
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("general answer produced empty response")
	}
	return answer, nil
}

// fieldOf pulls one named output field out of a prediction result.
func fieldOf(result interface{}, name string) interface{} {
	resultMap, ok := result.(map[string]interface{})
	if !ok {
		return nil
	}
	return resultMap[name]
}

// parseBinaryScore reads a strict yes/no judgment. Anything else is a
// classification failure, never a silent default.
func parseBinaryScore(result interface{}) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(toString(fieldOf(result, "binary_score"))))
	switch raw {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, fmt.Errorf("grader produced invalid binary score %q", raw)
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}
