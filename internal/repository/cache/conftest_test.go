package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/db"
)

// mockStore is an in-memory distributed tier. Function fields override behaviour.
type mockStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration

	getFn     func(ctx context.Context, key string) ([]byte, error)
	setFn     func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	delFn     func(ctx context.Context, key string) error
	delPrefFn func(ctx context.Context, prefix string) (int, error)
	tryLockFn func(ctx context.Context, key, token string, ttl time.Duration) error

	unlocks int
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockStore) DelPrefix(ctx context.Context, prefix string) (int, error) {
	if m.delPrefFn != nil {
		return m.delPrefFn(ctx, prefix)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) TryLock(ctx context.Context, key, token string, ttl time.Duration) error {
	if m.tryLockFn != nil {
		return m.tryLockFn(ctx, key, token, ttl)
	}
	return nil
}

func (m *mockStore) Unlock(_ context.Context, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocks++
	return nil
}

func (m *mockStore) stored(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLRU(t *testing.T, clock *fakeClock) *LRU {
	t.Helper()
	m, err := NewLRU(128)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	if clock != nil {
		m.now = clock.Now
	}
	return m
}

func newTestCache(t *testing.T, cfg Config, dist store) (*Cache, *LRU, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	mem := newTestLRU(t, clock)
	return New(cfg, mem, dist, zap.NewNop()), mem, clock
}
