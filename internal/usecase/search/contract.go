package search

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

// Retriever returns up to topK raw hits for one variant text.
// Dense scores are similarities, sparse scores are unbounded BM25 values.
type Retriever interface {
	Retrieve(ctx context.Context, text string, topK int) ([]retrieval.Hit, error)
}
