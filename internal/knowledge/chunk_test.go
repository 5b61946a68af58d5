package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkTextShortInput(t *testing.T) {
	chunks := ChunkText("short document", 1000, 200)
	assert.Equal(t, []string{"short document"}, chunks)

	assert.Nil(t, ChunkText("", 1000, 200))
}

func TestChunkTextWindowBounds(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line with some review discussion content\n")
	}
	text := b.String()

	chunks := ChunkText(text, 1000, 200)
	assert.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 1000, "chunk %d exceeds window size", i)
		assert.NotEmpty(t, chunk)
	}
}

func TestChunkTextOverlapPreservesContent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(strings.Repeat("x", 30) + "\n")
	}
	text := b.String()

	chunks := ChunkText(text, 500, 100)
	// Every line of the source must appear in at least one chunk.
	joined := strings.Join(chunks, "")
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		assert.Contains(t, joined, line)
	}
	// Consecutive chunks share content.
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])-50:]
		assert.Contains(t, chunks[i], strings.TrimLeft(tail, "\n"))
	}
}

func TestChunkTextLongSingleLine(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks := ChunkText(text, 1000, 200)
	assert.GreaterOrEqual(t, len(chunks), 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1000)
	}
}
