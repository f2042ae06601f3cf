package enhance

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

type mockGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fn      func(ctx context.Context, prompt string) (domain.Generation, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, _ domain.GenerateOptions) (domain.Generation, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.fn(ctx, prompt)
}

func (m *mockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func replying(text string) *mockGenerator {
	return &mockGenerator{fn: func(context.Context, string) (domain.Generation, error) {
		return domain.Generation{Text: text}, nil
	}}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mem, err := cache.NewLRU(64)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	return cache.New(cache.Config{}, mem, nil, zap.NewNop())
}
