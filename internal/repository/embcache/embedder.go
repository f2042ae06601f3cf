package embcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

// responseCache is the consumer interface for the embedding cache (ISP).
type responseCache interface {
	GetOrCompute(ctx context.Context, ns cache.Namespace, key string, fn cache.ComputeFunc) ([]byte, error)
}

// CachedEmbedder caches query embeddings in the dense-embeddings namespace.
// Concurrent requests for the same text share one provider call.
type CachedEmbedder struct {
	inner  domain.Embedder
	cache  responseCache
	model  string
	logger *zap.Logger
}

// New creates a caching decorator. model is part of the key so switching
// embedding models never serves stale vectors.
func New(inner domain.Embedder, c responseCache, model string, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		cache:  c,
		model:  model,
		logger: logger,
	}
}

// Embed returns a cached embedding or calls the inner embedder. Hits are
// marked Cached and report zero tokens.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var fresh *domain.EmbeddingResult

	data, err := c.cache.GetOrCompute(ctx, cache.NamespaceDenseEmbeddings, c.model+"\x1f"+text,
		func(ctx context.Context) ([]byte, bool, error) {
			result, err := c.inner.Embed(ctx, text)
			if err != nil {
				return nil, false, err
			}
			fresh = &result
			return vectorToCacheBytes(result.Embedding), len(result.Embedding) > 0, nil
		})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	if fresh != nil {
		return *fresh, nil
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.Error(err))
		result, err := c.inner.Embed(ctx, text)
		if err != nil {
			return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
		}
		return result, nil
	}
	return domain.EmbeddingResult{Embedding: vec, Cached: true}, nil
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
