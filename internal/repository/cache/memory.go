package cache

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory is the in-process tier. Implementations are safe for concurrent use.
// Get and Set copy values, so callers may mutate what they pass in or get back.
type Memory interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Del(key string)
	// DelPrefix drops every key starting with prefix. It may drop more.
	DelPrefix(prefix string)
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LRU is a size-bounded memory tier with per-entry expiry.
type LRU struct {
	cache *lru.Cache[string, memEntry]
	now   func() time.Time
}

// NewLRU creates an LRU tier holding at most size entries.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &LRU{cache: c, now: time.Now}, nil
}

// Get returns a live entry. Expired entries are evicted on read.
func (m *LRU) Get(key string) ([]byte, bool) {
	e, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		m.cache.Remove(key)
		return nil, false
	}
	return slices.Clone(e.value), true
}

// Set stores value until ttl elapses. ttl <= 0 means no expiry.
func (m *LRU) Set(key string, value []byte, ttl time.Duration) {
	e := memEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.cache.Add(key, e)
}

// Del removes key.
func (m *LRU) Del(key string) {
	m.cache.Remove(key)
}

// DelPrefix removes the keys starting with prefix.
func (m *LRU) DelPrefix(prefix string) {
	for _, k := range m.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.cache.Remove(k)
		}
	}
}

// Len reports the number of stored entries, expired ones included.
func (m *LRU) Len() int {
	return m.cache.Len()
}

const (
	ristrettoNumCounters = 1e6
	ristrettoBufferItems = 64
)

// Ristretto is a cost-bounded memory tier with TinyLFU admission.
// Writes may be rejected by the admission policy; a rejected write is a later miss.
type Ristretto struct {
	cache *ristretto.Cache
	now   func() time.Time
}

// NewRistretto creates a tier bounded to maxBytes of stored values.
func NewRistretto(maxBytes int64) (*Ristretto, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: ristrettoNumCounters,
		MaxCost:     maxBytes,
		BufferItems: ristrettoBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto: %w", err)
	}
	return &Ristretto{cache: c, now: time.Now}, nil
}

// Get returns a live entry.
func (m *Ristretto) Get(key string) ([]byte, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(memEntry)
	if !ok || e.expired(m.now()) {
		return nil, false
	}
	return slices.Clone(e.value), true
}

// Set stores value and waits for the write buffer to drain so the entry is visible to the next Get.
func (m *Ristretto) Set(key string, value []byte, ttl time.Duration) {
	e := memEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.cache.SetWithTTL(key, e, int64(len(value))+int64(len(key)), ttl)
	m.cache.Wait()
}

// Del removes key.
func (m *Ristretto) Del(key string) {
	m.cache.Del(key)
}

// DelPrefix clears the whole tier: ristretto cannot enumerate its keys.
func (m *Ristretto) DelPrefix(string) {
	m.cache.Clear()
}

// Close stops ristretto's background goroutines.
func (m *Ristretto) Close() {
	m.cache.Close()
}
