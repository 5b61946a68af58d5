package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hindsightci/hindsight/internal/store"
)

func TestComposeDocument(t *testing.T) {
	rec := store.PRRecord{
		Number:          123,
		Title:           "Harden diff parser",
		Description:     "Handles hunks without trailing newline.",
		CodeChanges:     "@@ -1,2 +1,3 @@\n+check(eof)",
		GeneralComments: []string{"Nice catch"},
		IssueComments:   []string{"Reported by fuzzing"},
		ReviewComments: []store.ReviewThreadComment{
			{FilePath: "parser/diff.go", Line: 88, Author: "alice", Body: "What if the hunk is empty?"},
			{FilePath: "parser/diff.go", Line: 92, Author: "bob", Body: "Needs a bounds check."},
		},
	}

	doc := ComposeDocument(rec)
	assert.Contains(t, doc, "PR ID: 123")
	assert.Contains(t, doc, "Code Changes:\n@@ -1,2 +1,3 @@")
	assert.Contains(t, doc, ReviewCommentsStart)
	assert.Contains(t, doc, ReviewCommentsEnd)
	assert.Contains(t, doc, "[parser/diff.go:88] alice: What if the hunk is empty?")
	assert.Contains(t, doc, "[parser/diff.go:92] bob: Needs a bounds check.")
}

func TestComposeDocumentWithoutComments(t *testing.T) {
	doc := ComposeDocument(store.PRRecord{Number: 5, Title: "Bump deps"})
	assert.Contains(t, doc, "PR ID: 5")
	assert.NotContains(t, doc, ReviewCommentsStart)
}

func TestPreferCommentBearing(t *testing.T) {
	withComments := func(id int) Passage {
		return Passage{
			Text:       ReviewCommentsStart + "\n[x.go:1] a: watch out\n" + ReviewCommentsEnd,
			SourcePRID: id,
		}
	}
	plain := func(id int) Passage {
		return Passage{Text: "PR ID: 9\nDescription:\nno threads here", SourcePRID: id}
	}

	t.Run("prefers comment-bearing passages up to max", func(t *testing.T) {
		got := PreferCommentBearing([]Passage{plain(1), withComments(2), plain(3), withComments(4), withComments(5)}, 2)
		assert.Len(t, got, 2)
		assert.Equal(t, 2, got[0].SourcePRID)
		assert.Equal(t, 4, got[1].SourcePRID)
	})

	t.Run("falls back to top of unfiltered set", func(t *testing.T) {
		got := PreferCommentBearing([]Passage{plain(1), plain(2), plain(3)}, 2)
		assert.Len(t, got, 2)
		assert.Equal(t, 1, got[0].SourcePRID)
	})

	t.Run("keeps a single preferred passage", func(t *testing.T) {
		got := PreferCommentBearing([]Passage{plain(1), withComments(2)}, 2)
		assert.Len(t, got, 1)
		assert.Equal(t, 2, got[0].SourcePRID)
	})

	t.Run("empty candidates stay empty", func(t *testing.T) {
		assert.Empty(t, PreferCommentBearing(nil, 2))
	})
}
