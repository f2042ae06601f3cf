package predefined

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/db"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

func mustAnswer(t *testing.T, q, a string, kws []string, conf float64) dompre.Answer {
	t.Helper()
	ans, err := dompre.New(q, a, kws, conf)
	if err != nil {
		t.Fatalf("dompre.New: %v", err)
	}
	return ans
}

// cssTable is a slice of the production default table.
func cssTable(t *testing.T) []dompre.Answer {
	t.Helper()
	return []dompre.Answer{
		mustAnswer(t, "Bonjour", "Bonjour ! Comment puis-je vous aider aujourd'hui ?",
			[]string{"Bonjour", "salutation"}, 0.95),
		mustAnswer(t, "quel est l'âge de la retraite",
			"L'âge légal de départ à la retraite au Sénégal est de 60 ans.",
			[]string{"âge", "retraite", "60 ans", "départ", "légal"}, 0.95),
		mustAnswer(t, "quel est le taux de cotisation css",
			"Le taux de cotisation à la CSS est de 24% du salaire brut.",
			[]string{"taux", "cotisation", "24%", "employeur", "salarié"}, 0.9),
		mustAnswer(t, "qu'est-ce que la css", "La CSS (Caisse de Sécurité Sociale) est l'organisme public.",
			[]string{"css", "caisse", "sécurité sociale", "organisme"}, 0.95),
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mem, err := cache.NewLRU(64)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	return cache.New(cache.Config{}, mem, nil, zap.NewNop())
}

// sharedStore is an in-memory distributed tier several caches can share.
type sharedStore struct {
	mu   sync.Mutex
	data map[string][]byte
	gets atomic.Int32
}

func newSharedStore() *sharedStore {
	return &sharedStore{data: map[string][]byte{}}
}

func (s *sharedStore) Get(_ context.Context, key string) ([]byte, error) {
	s.gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (s *sharedStore) SetWithTTL(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *sharedStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *sharedStore) DelPrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *sharedStore) TryLock(context.Context, string, string, time.Duration) error { return nil }

func (s *sharedStore) Unlock(context.Context, string, string) error { return nil }

// newSharedCache models one process: its own memory tier over the shared store.
func newSharedCache(t *testing.T, dist *sharedStore) *cache.Cache {
	t.Helper()
	mem, err := cache.NewLRU(64)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	return cache.New(cache.Config{Prefix: "ragdex:"}, mem, dist, zap.NewNop())
}
