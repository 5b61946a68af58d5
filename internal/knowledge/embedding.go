package knowledge

import (
	"context"
	"fmt"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
)

// Embedder turns text into a vector. The index takes this interface so tests
// and alternative embedding backends can stand in for the configured LLM.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLMEmbedder embeds text through the process-wide configured LLM.
type LLMEmbedder struct{}

func (LLMEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	llm := core.GetDefaultLLM()
	if llm == nil {
		return nil, fmt.Errorf("no default LLM configured for embeddings")
	}
	result, err := llm.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	return result.Vector, nil
}
