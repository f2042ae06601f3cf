package embcache

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
	calls  int
	texts  []string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	m.texts = append(m.texts, text)
	return m.result, m.err
}

func newTestCachedEmbedder(t *testing.T, inner *mockEmbedder) (*CachedEmbedder, *cache.Cache) {
	t.Helper()
	mem, err := cache.NewLRU(64)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	c := cache.New(cache.Config{}, mem, nil, zap.NewNop())
	return New(inner, c, "test-model", zap.NewNop()), c
}
