package rerank

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

// CrossEncoder scores (query, text) pairs. Scores come back in input order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Cache stores cross-encoder scores in the rerank namespace.
type Cache interface {
	GetOrCompute(ctx context.Context, ns cache.Namespace, key string, fn cache.ComputeFunc) ([]byte, error)
}
