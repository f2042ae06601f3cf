package ask

import (
	"context"

	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/usecase/enhance"
	"github.com/kailas-cloud/ragdex/internal/usecase/rerank"
	"github.com/kailas-cloud/ragdex/internal/usecase/search"
)

// Predefined finds a curated answer for the question.
type Predefined interface {
	Lookup(ctx context.Context, q query.Query) (dompre.Match, bool)
}

// Enhancer expands the question into variants.
type Enhancer interface {
	Enhance(ctx context.Context, q query.Query) enhance.Result
}

// Searcher retrieves, fuses and deduplicates candidates for the variants.
type Searcher interface {
	Retrieve(ctx context.Context, variants []query.Variant) (search.Result, error)
}

// Reranker orders candidates with a cross-encoder.
type Reranker interface {
	Rerank(ctx context.Context, original query.Query, docs []retrieval.Document, topK int) rerank.Result
}

// Cache stores full responses.
type Cache interface {
	Get(ctx context.Context, ns cache.Namespace, key string) ([]byte, bool)
	Set(ctx context.Context, ns cache.Namespace, key string, value []byte)
	GetOrCompute(ctx context.Context, ns cache.Namespace, key string, fn cache.ComputeFunc) ([]byte, error)
}
