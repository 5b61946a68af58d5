package knowledge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hindsightci/hindsight/internal/store"
)

const testDims = 8

// countingEmbedder hashes text into a deterministic vector and counts calls.
type countingEmbedder struct {
	calls int
	fail  bool
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	vec := make([]float32, testDims)
	for i, r := range text {
		vec[i%testDims] += float32(r%13) / 13
	}
	return vec, nil
}

func indexRecords() []store.PRRecord {
	return []store.PRRecord{
		{
			Number:      101,
			Title:       "Guard against empty diff",
			Description: "Empty diffs crashed the parser.",
			CodeChanges: "@@ -4,1 +4,4 @@\n+if len(diff) == 0 { return nil }",
			ReviewComments: []store.ReviewThreadComment{
				{FilePath: "parser.go", Line: 4, Author: "alice", Body: "Same bug as last quarter."},
			},
		},
		{
			Number:      102,
			Title:       "Bump CI image",
			Description: "Routine maintenance.",
			CodeChanges: "@@ -1,1 +1,1 @@\n-image: go1.22\n+image: go1.23",
		},
	}
}

func TestIndexQueryBeforeBuild(t *testing.T) {
	ix := NewIndex("acme", "widgets", t.TempDir(), testDims, &countingEmbedder{})
	defer ix.Close()

	assert.False(t, ix.Ready())
	_, err := ix.Query(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestIndexBuildAndQuery(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{}
	ix := NewIndex("acme", "widgets", t.TempDir(), testDims, embedder)
	defer ix.Close()

	records := indexRecords()
	require.NoError(t, ix.EnsureBuilt(ctx, records, store.Fingerprint(records)))
	assert.True(t, ix.Ready())

	passages, err := ix.Query(ctx, "empty diff crash", 5)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	for _, p := range passages {
		assert.Contains(t, []int{101, 102}, p.SourcePRID)
		assert.Equal(t, "acme/widgets", p.SourcePath)
	}
}

func TestEnsureBuiltIdempotentForUnchangedFingerprint(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{}
	ix := NewIndex("acme", "widgets", t.TempDir(), testDims, embedder)
	defer ix.Close()

	records := indexRecords()
	fingerprint := store.Fingerprint(records)
	require.NoError(t, ix.EnsureBuilt(ctx, records, fingerprint))
	callsAfterFirst := embedder.calls
	require.Greater(t, callsAfterFirst, 0)

	// Same fingerprint: no re-embedding.
	require.NoError(t, ix.EnsureBuilt(ctx, records, fingerprint))
	assert.Equal(t, callsAfterFirst, embedder.calls)
}

func TestEnsureBuiltRebuildsOnChangedFingerprint(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{}
	ix := NewIndex("acme", "widgets", t.TempDir(), testDims, embedder)
	defer ix.Close()

	records := indexRecords()
	require.NoError(t, ix.EnsureBuilt(ctx, records, store.Fingerprint(records)))
	callsAfterFirst := embedder.calls

	records[0].ReviewComments = append(records[0].ReviewComments,
		store.ReviewThreadComment{FilePath: "parser.go", Line: 9, Author: "bob", Body: "Also cover CRLF."})
	require.NoError(t, ix.EnsureBuilt(ctx, records, store.Fingerprint(records)))
	assert.Greater(t, embedder.calls, callsAfterFirst)
}

func TestFailedRebuildLeavesOldStoreQueryable(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{}
	ix := NewIndex("acme", "widgets", t.TempDir(), testDims, embedder)
	defer ix.Close()

	records := indexRecords()
	oldFingerprint := store.Fingerprint(records)
	require.NoError(t, ix.EnsureBuilt(ctx, records, oldFingerprint))

	records[1].Description = "Changed description forces a rebuild."
	embedder.fail = true
	err := ix.EnsureBuilt(ctx, records, store.Fingerprint(records))
	require.Error(t, err)

	// Old data still queryable, ready flag and version untouched.
	assert.True(t, ix.Ready())
	assert.Equal(t, oldFingerprint, ix.Version())
	embedder.fail = false
	passages, err := ix.Query(ctx, "empty diff", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, passages)
}
