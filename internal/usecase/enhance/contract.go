package enhance

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

// Generator produces rephrasings of the user's question.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generation, error)
}

// Cache stores generated rephrasings in the query-enhancement namespace.
type Cache interface {
	GetOrCompute(ctx context.Context, ns cache.Namespace, key string, fn cache.ComputeFunc) ([]byte, error)
}
