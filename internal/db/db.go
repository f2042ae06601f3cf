package db

import (
	"context"
	"time"
)

// Store is the main database facade combining all sub-interfaces.
type Store interface {
	Pinger
	KVStore
	Locker
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations with expiry.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// DelPrefix removes every key starting with prefix and returns how many were deleted.
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

// Locker provides a best-effort distributed mutex keyed by string.
type Locker interface {
	// TryLock sets key to token if absent. Returns ErrLockNotAcquired when held elsewhere.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) error
	// Unlock deletes key only while it still holds token.
	Unlock(ctx context.Context, key, token string) error
}

// Searcher provides search operations over FT indexes.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchBM25(ctx context.Context, q *TextQuery) (*SearchResult, error)
}
