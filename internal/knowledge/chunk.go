package knowledge

const (
	// DefaultChunkSize targets windows large enough to preserve a full review
	// comment thread while staying inside embedding-model limits.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap keeps neighboring windows overlapping so a thread
	// split across a boundary still appears whole in one of them.
	DefaultChunkOverlap = 200
)

// ChunkText splits text into overlapping windows of at most size runes with
// roughly overlap runes shared between neighbors. Window boundaries snap back
// to the nearest newline inside the overlap region when one exists, so lines
// are not cut mid-way unless a single line exceeds the window.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		cut := end
		// Snap to a newline within the overlap region.
		for i := end - 1; i > end-overlap && i > start; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[start:cut]))
		next := cut - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
