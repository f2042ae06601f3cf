package predefined

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

// Cache stores lookup results in the predefined-lookup namespace.
type Cache interface {
	GetOrCompute(ctx context.Context, ns cache.Namespace, key string, fn cache.ComputeFunc) ([]byte, error)
}
