package rerank

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

type mockCrossEncoder struct {
	mu    sync.Mutex
	calls int
	texts []string
	fn    func(ctx context.Context, query string, texts []string) ([]float64, error)
}

func (m *mockCrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	m.mu.Lock()
	m.calls++
	m.texts = texts
	m.mu.Unlock()
	return m.fn(ctx, query, texts)
}

func (m *mockCrossEncoder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// scoresByContent returns a fixed score per document content.
func scoresByContent(table map[string]float64) *mockCrossEncoder {
	return &mockCrossEncoder{fn: func(_ context.Context, _ string, texts []string) ([]float64, error) {
		out := make([]float64, len(texts))
		for i, t := range texts {
			out[i] = table[t]
		}
		return out, nil
	}}
}

func doc(id string, fused float64) retrieval.Document {
	return retrieval.Document{ID: id, Content: id, FusedScore: fused, OriginVariants: []int{0}}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mem, err := cache.NewLRU(64)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	return cache.New(cache.Config{}, mem, nil, zap.NewNop())
}

func testConfig(topK int) Config {
	cfg := DefaultConfig()
	cfg.TopK = topK
	return cfg
}
