package review

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReviewResult is the structured output of a direct (ungrounded) review.
type ReviewResult struct {
	OverallEvaluation      string
	SpecificIssues         []string
	ImprovementSuggestions []string
	CodeExamples           []string
}

// FormatMindmap renders a review result as a nested human-readable report:
// headline evaluation, numbered issues and suggestions, and fenced
// language-tagged code examples.
func FormatMindmap(review *ReviewResult) string {
	var out []string
	out = append(out, "# Code Review Result")
	out = append(out, "\n## Overall Evaluation")
	out = append(out, fmt.Sprintf("- %s", review.OverallEvaluation))

	if len(review.SpecificIssues) > 0 {
		out = append(out, "\n## Specific Issues")
		for i, issue := range review.SpecificIssues {
			out = append(out, fmt.Sprintf("- Issue %d:", i+1))
			out = append(out, indentLines(issue)...)
		}
	}

	if len(review.ImprovementSuggestions) > 0 {
		out = append(out, "\n## Improvement Suggestions")
		for i, suggestion := range review.ImprovementSuggestions {
			out = append(out, fmt.Sprintf("- Suggestion %d:", i+1))
			out = append(out, indentLines(suggestion)...)
		}
	}

	if len(review.CodeExamples) > 0 {
		out = append(out, "\n## Code Examples")
		for i, example := range review.CodeExamples {
			out = append(out, fmt.Sprintf("- Example %d:", i+1))
			lines := strings.Split(example, "\n")
			if !strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
				out = append(out, fmt.Sprintf("  ```%s", detectLanguage(example)))
			}
			for _, line := range lines {
				if strings.TrimSpace(line) != "" {
					out = append(out, "  "+line)
				}
			}
			if !strings.Contains(lines[len(lines)-1], "```") {
				out = append(out, "  ```")
			}
		}
	}

	return strings.Join(out, "\n")
}

func indentLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, fmt.Sprintf("  └── %s", strings.TrimSpace(line)))
		}
	}
	return out
}

// detectLanguage guesses a fence tag for a code example. Best effort, not a
// language classifier: template syntax, shell markers and C/C++ markers are
// recognized, everything else gets the general-purpose default.
func detectLanguage(example string) string {
	lower := strings.ToLower(example)
	firstLine := strings.TrimSpace(strings.SplitN(example, "\n", 2)[0])

	if strings.Contains(example, "{%") || strings.Contains(example, "{{") {
		return "jinja"
	}

	shellMarkers := strings.HasPrefix(firstLine, "#!/bin/bash") ||
		strings.HasPrefix(firstLine, "#!/bin/sh") ||
		strings.Contains(example, "$(") ||
		strings.Contains(example, "if [ ") ||
		strings.Contains(lower, "echo ") ||
		(strings.Contains(lower, "for ") && strings.Contains(lower, "do")) ||
		(strings.Contains(lower, "while ") && strings.Contains(lower, "do")) ||
		(strings.Contains(example, "$") && (strings.Contains(example, "{") || strings.Contains(example, "}"))) ||
		strings.Contains(lower, "export ")
	if shellMarkers {
		return "bash"
	}

	cMarkers := strings.Contains(example, "#include") ||
		strings.Contains(lower, "int main") ||
		strings.Contains(lower, "void ") ||
		strings.Contains(lower, "class ") ||
		strings.Contains(lower, "struct ") ||
		strings.Contains(lower, "cout") ||
		strings.Contains(lower, "printf") ||
		strings.Contains(lower, "namespace std")
	if cMarkers {
		if strings.Contains(lower, "cout") || strings.Contains(lower, "namespace std") ||
			strings.Contains(lower, "class ") {
			return "cpp"
		}
		return "c"
	}

	return "python"
}

// coerceStringList normalizes an LLM structured-output field that should be a
// list of strings. Recovery strategies, in order: native list, JSON-encoded
// string, shell-escaped JSON string (one repair pass), opaque single value.
// Only unrecoverable coercion falls through to the raw string; the workflow
// never aborts on shape mismatch.
func coerceStringList(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, toString(item))
		}
		return out
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || strings.EqualFold(trimmed, "none") {
			return nil
		}
		if list, ok := decodeJSONList(trimmed); ok {
			return list
		}
		if looksShellEscaped(trimmed) {
			if list, ok := decodeJSONList(repairShellEscapes(trimmed)); ok {
				return list
			}
		}
		// Opaque fallback: keep the raw value as a single entry.
		return []string{v}
	default:
		return []string{toString(v)}
	}
}

func decodeJSONList(s string) ([]string, bool) {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list, true
	}
	var anyList []interface{}
	if err := json.Unmarshal([]byte(s), &anyList); err == nil {
		out := make([]string, 0, len(anyList))
		for _, item := range anyList {
			out = append(out, toString(item))
		}
		return out, true
	}
	var single string
	if err := json.Unmarshal([]byte(s), &single); err == nil {
		return []string{single}, true
	}
	return nil, false
}

// looksShellEscaped reports whether a failed JSON decode is worth one repair
// pass: the payload carries nested shell-style quoting.
func looksShellEscaped(s string) bool {
	return strings.Contains(s, `\"`) || strings.Contains(s, `\'`) ||
		strings.Contains(strings.ToLower(s), "bash")
}

// repairShellEscapes unescapes the nested quoting LLMs produce when they
// embed shell text inside an already-JSON-encoded string.
func repairShellEscapes(s string) string {
	replacer := strings.NewReplacer(
		`\'`, `'`,
		`\"`, `"`,
		`\\$`, `$`,
	)
	return replacer.Replace(s)
}
