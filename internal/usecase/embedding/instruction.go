package embedding

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// InstructionEmbedder prefixes every text with a fixed instruction, as
// instruction-tuned models (e5, bge) expect for queries. It must wrap the
// cache so the instruction is part of the cache key.
type InstructionEmbedder struct {
	inner       domain.Embedder
	instruction string
}

// WithInstruction wraps inner. An empty instruction returns inner unchanged.
func WithInstruction(inner domain.Embedder, instruction string) domain.Embedder {
	if instruction == "" {
		return inner
	}
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed implements domain.Embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}
