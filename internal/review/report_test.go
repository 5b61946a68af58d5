package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMindmap(t *testing.T) {
	result := &ReviewResult{
		OverallEvaluation:      "Solid change with a few gaps.",
		SpecificIssues:         []string{"no timeout on the HTTP client", "error swallowed in cleanup\nsecond line"},
		ImprovementSuggestions: []string{"add a context deadline"},
		CodeExamples:           []string{"def handler():\n    return ok"},
	}

	out := FormatMindmap(result)

	assert.True(t, strings.HasPrefix(out, "# Code Review Result"))
	assert.Contains(t, out, "## Overall Evaluation")
	assert.Contains(t, out, "- Solid change with a few gaps.")
	assert.Contains(t, out, "## Specific Issues")
	assert.Contains(t, out, "- Issue 1:")
	assert.Contains(t, out, "  └── no timeout on the HTTP client")
	assert.Contains(t, out, "- Issue 2:")
	assert.Contains(t, out, "  └── second line")
	assert.Contains(t, out, "## Improvement Suggestions")
	assert.Contains(t, out, "- Suggestion 1:")
	assert.Contains(t, out, "## Code Examples")
	assert.Contains(t, out, "```python")
	assert.Contains(t, out, "  def handler():")
}

func TestFormatMindmapOmitsEmptySections(t *testing.T) {
	out := FormatMindmap(&ReviewResult{OverallEvaluation: "Looks good."})

	assert.Contains(t, out, "## Overall Evaluation")
	assert.NotContains(t, out, "## Specific Issues")
	assert.NotContains(t, out, "## Improvement Suggestions")
	assert.NotContains(t, out, "## Code Examples")
}

func TestFormatMindmapKeepsExistingFence(t *testing.T) {
	out := FormatMindmap(&ReviewResult{
		OverallEvaluation: "ok",
		CodeExamples:      []string{"```go\nfunc main() {}\n```"},
	})

	assert.Equal(t, 2, strings.Count(out, "```"))
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		name    string
		example string
		want    string
	}{
		{"jinja template", "{% for item in items %}{{ item }}{% endfor %}", "jinja"},
		{"bash shebang", "#!/bin/bash\nmake all", "bash"},
		{"bash substitution", "result=$(ls -la)", "bash"},
		{"bash conditional", "if [ -f config ]; then\n  cat config\nfi", "bash"},
		{"cpp stream", "#include <iostream>\nstd::cout << x;", "cpp"},
		{"plain c", `#include <stdio.h>` + "\n" + `printf("%d", x);`, "c"},
		{"default python", "def handler(request):\n    return response", "python"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectLanguage(tc.example))
		})
	}
}

func TestCoerceStringList(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, coerceStringList(nil))
	})

	t.Run("native string slice", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, coerceStringList([]string{"a", "b"}))
	})

	t.Run("interface slice", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, coerceStringList([]interface{}{"a", "b"}))
	})

	t.Run("json encoded list", func(t *testing.T) {
		assert.Equal(t, []string{"x", "y"}, coerceStringList(`["x", "y"]`))
	})

	t.Run("none means empty", func(t *testing.T) {
		assert.Nil(t, coerceStringList("None"))
		assert.Nil(t, coerceStringList("  "))
	})

	t.Run("shell escaped payload", func(t *testing.T) {
		payload := `["# check the build\nresult=$(make \"all\")"]`
		got := coerceStringList(payload)
		require.Len(t, got, 1)
		assert.Contains(t, got[0], "$(make")
	})

	t.Run("opaque string kept as single entry", func(t *testing.T) {
		got := coerceStringList("just use a mutex here")
		assert.Equal(t, []string{"just use a mutex here"}, got)
	})
}

func TestCoerceStringListBashExample(t *testing.T) {
	// A JSON list whose single element embeds a commented bash snippet; the
	// element must come through as one example tagged as bash downstream.
	payload := `["# Improved version\nfiles=$(find . -name '*.log')\necho ${files}"]`

	got := coerceStringList(payload)

	require.Len(t, got, 1)
	assert.Contains(t, got[0], "find . -name")
	assert.Equal(t, "bash", detectLanguage(got[0]))
}
