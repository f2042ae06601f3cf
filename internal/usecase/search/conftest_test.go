package search

import (
	"context"
	"sync"
	"testing"

	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

// mockRetriever answers per variant text; fn overrides the table.
type mockRetriever struct {
	mu    sync.Mutex
	byText map[string][]retrieval.Hit
	fn    func(ctx context.Context, text string, topK int) ([]retrieval.Hit, error)
	calls []string
}

func (m *mockRetriever) Retrieve(ctx context.Context, text string, topK int) ([]retrieval.Hit, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx, text, topK)
	}
	return m.byText[text], nil
}

func (m *mockRetriever) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func hit(id string, score float64) retrieval.Hit {
	return retrieval.Hit{ID: id, Content: "content of " + id, Score: score}
}

func byID(t *testing.T, docs []retrieval.Document, id string) retrieval.Document {
	t.Helper()
	for _, d := range docs {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("document %q not found in %v", id, retrieval.IDs(docs))
	return retrieval.Document{}
}

const eps = 1e-9

func near(a, b float64) bool {
	d := a - b
	return d < eps && d > -eps
}
