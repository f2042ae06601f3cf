// Package cache implements the two-tier response cache shared by every pipeline stage.
//
// Reads go to the in-process tier first and fall through to the distributed tier,
// backfilling memory on a hit. Writes go to both. The distributed tier is optional
// and its failures are logged and swallowed: a cache problem never fails a request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/ragdex/internal/db"
	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Namespace partitions the cache; each has its own TTL.
type Namespace string

// Cache namespaces.
const (
	NamespaceQueryEnhancement Namespace = "query-enhancement"
	NamespaceDenseEmbeddings  Namespace = "dense-embeddings"
	NamespaceRerank           Namespace = "rerank"
	NamespaceFullResponse     Namespace = "full-response"
	NamespacePredefinedLookup Namespace = "predefined-lookup"
)

// Namespaces lists every known namespace.
func Namespaces() []Namespace {
	return []Namespace{
		NamespaceQueryEnhancement,
		NamespaceDenseEmbeddings,
		NamespaceRerank,
		NamespaceFullResponse,
		NamespacePredefinedLookup,
	}
}

// ParseNamespace validates a namespace name.
func ParseNamespace(s string) (Namespace, error) {
	for _, ns := range Namespaces() {
		if string(ns) == s {
			return ns, nil
		}
	}
	return "", fmt.Errorf("unknown cache namespace %q: %w", s, domain.ErrInvalidRequest)
}

const (
	tierMemory      = "memory"
	tierDistributed = "distributed"

	defaultTTL          = time.Hour
	defaultLockTTL      = 10 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	defaultOpTimeout    = 200 * time.Millisecond
)

// store is the consumer interface for the distributed tier (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
	TryLock(ctx context.Context, key, token string, ttl time.Duration) error
	Unlock(ctx context.Context, key, token string) error
}

// Config tunes the cache. Zero values fall back to defaults.
type Config struct {
	// Prefix is prepended to every distributed key.
	Prefix       string
	TTL          map[Namespace]time.Duration
	MemoryMaxTTL time.Duration
	// DistributedLock serializes computation of a key across processes.
	DistributedLock  bool
	LockTTL          time.Duration
	LockPollInterval time.Duration
	// OpTimeout bounds each distributed tier call.
	OpTimeout time.Duration
}

// ComputeFunc produces a value on a miss. Only cacheable successes are stored.
type ComputeFunc func(ctx context.Context) (value []byte, cacheable bool, err error)

// Stats is a snapshot of lookup counters since start.
type Stats struct {
	MemoryHits        int64 `json:"memory_hits"`
	MemoryMisses      int64 `json:"memory_misses"`
	DistributedHits   int64 `json:"distributed_hits"`
	DistributedMisses int64 `json:"distributed_misses"`
	DistributedErrors int64 `json:"distributed_errors"`
}

// Cache is the two-tier cache with per-key single-flight.
type Cache struct {
	cfg    Config
	mem    Memory
	dist   store
	group  singleflight.Group
	logger *zap.Logger

	lookups *prometheus.CounterVec
	errs    *prometheus.CounterVec

	memHits, memMisses, distHits, distMisses, distErrs atomic.Int64
}

// Option configures optional Cache collaborators.
type Option func(*Cache)

// WithMetrics wires the lookup counter (labels namespace, tier, result)
// and the error counter (labels tier, op).
func WithMetrics(lookups, errs *prometheus.CounterVec) Option {
	return func(c *Cache) {
		c.lookups = lookups
		c.errs = errs
	}
}

// New creates a cache. dist may be nil to run memory-only.
func New(cfg Config, mem Memory, dist store, logger *zap.Logger, opts ...Option) *Cache {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockPollInterval <= 0 {
		cfg.LockPollInterval = defaultPollInterval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	c := &Cache{cfg: cfg, mem: mem, dist: dist, logger: logger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get looks key up in memory, then in the distributed tier.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	return c.lookup(ctx, ns, c.storageKey(ns, key))
}

// Set stores value in both tiers with the namespace TTL.
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value []byte) {
	c.SetWithTTL(ctx, ns, key, value, c.ttl(ns))
}

// SetWithTTL stores value in both tiers. The memory copy never outlives the memory max TTL.
func (c *Cache) SetWithTTL(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) {
	k := c.storageKey(ns, key)
	c.mem.Set(k, value, c.capMemoryTTL(ttl))
	if c.dist == nil {
		return
	}
	dctx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.dist.SetWithTTL(dctx, k, value, ttl); err != nil {
		c.tierError(db.OpSet, k, err)
	}
}

// Invalidate removes key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, ns Namespace, key string) error {
	k := c.storageKey(ns, key)
	c.mem.Del(k)
	if c.dist == nil {
		return nil
	}
	dctx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.dist.Del(dctx, k); err != nil {
		c.tierError(db.OpDel, k, err)
		return fmt.Errorf("invalidate %s: %w", ns, errors.Join(domain.ErrCacheUnavailable, err))
	}
	return nil
}

// InvalidateNamespace drops every entry of ns from both tiers and reports how many
// distributed keys were removed. The memory tier of other processes keeps its
// copies until they expire.
func (c *Cache) InvalidateNamespace(ctx context.Context, ns Namespace) (int, error) {
	prefix := c.namespacePrefix(ns)
	c.mem.DelPrefix(prefix)
	if c.dist == nil {
		return 0, nil
	}
	n, err := c.dist.DelPrefix(ctx, prefix)
	if err != nil {
		c.tierError(db.OpScan, prefix, err)
		return n, fmt.Errorf("invalidate namespace %s: %w", ns, errors.Join(domain.ErrCacheUnavailable, err))
	}
	c.logger.Info("Cache namespace invalidated", zap.String("namespace", string(ns)), zap.Int("keys", n))
	return n, nil
}

// GetOrCompute returns the cached value for key or computes it with fn.
// Concurrent callers for the same key in this process share one computation.
// With DistributedLock enabled, processes sharing the distributed tier do too.
func (c *Cache) GetOrCompute(ctx context.Context, ns Namespace, key string, fn ComputeFunc) ([]byte, error) {
	k := c.storageKey(ns, key)
	if v, ok := c.lookup(ctx, ns, k); ok {
		return v, nil
	}

	for attempt := 0; ; attempt++ {
		led := false
		ch := c.group.DoChan(k, func() (any, error) {
			led = true
			return c.compute(ctx, ns, k, fn)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				// The leader's context died, not ours: run the computation ourselves.
				if !led && attempt == 0 && ctx.Err() == nil && isContextErr(res.Err) {
					continue
				}
				return nil, res.Err
			}
			v, _ := res.Val.([]byte)
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Stats returns lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryHits:        c.memHits.Load(),
		MemoryMisses:      c.memMisses.Load(),
		DistributedHits:   c.distHits.Load(),
		DistributedMisses: c.distMisses.Load(),
		DistributedErrors: c.distErrs.Load(),
	}
}

func (c *Cache) compute(ctx context.Context, ns Namespace, k string, fn ComputeFunc) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compute %s: panic: %v", ns, r)
		}
	}()

	// Another flight may have stored the value between our miss and acquiring the flight.
	if v, ok := c.lookup(ctx, ns, k); ok {
		return v, nil
	}

	if c.cfg.DistributedLock && c.dist != nil {
		release, v, ok := c.acquire(ctx, ns, k)
		if ok {
			return v, nil
		}
		defer release()
	}

	v, cacheable, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.store(ctx, k, v, c.ttl(ns))
	}
	return v, nil
}

// acquire takes the distributed lock for k. When a peer holds it, acquire waits for
// the peer's value and returns it with ok=true. Once the lock TTL has elapsed
// without a value, the caller computes on its own.
func (c *Cache) acquire(ctx context.Context, ns Namespace, k string) (release func(), v []byte, ok bool) {
	noop := func() {}
	lockKey := k + ":lock"
	token := uuid.NewString()

	lctx, cancel := c.opContext(ctx)
	err := c.dist.TryLock(lctx, lockKey, token, c.cfg.LockTTL)
	cancel()

	switch {
	case err == nil:
		return func() {
			uctx, cancel := c.opContext(context.WithoutCancel(ctx))
			defer cancel()
			if err := c.dist.Unlock(uctx, lockKey, token); err != nil {
				c.tierError(db.OpEval, lockKey, err)
			}
		}, nil, false
	case errors.Is(err, db.ErrLockNotAcquired):
		v, ok := c.waitForPeer(ctx, ns, k)
		return noop, v, ok
	default:
		c.tierError(db.OpSet, lockKey, err)
		return noop, nil, false
	}
}

func (c *Cache) waitForPeer(ctx context.Context, ns Namespace, k string) ([]byte, bool) {
	deadline := time.NewTimer(c.cfg.LockTTL)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.LockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			c.logger.Warn("Cache lock holder did not publish a value, computing locally",
				zap.String("namespace", string(ns)))
			return nil, false
		case <-ticker.C:
			if v, ok := c.fromDistributed(ctx, ns, k); ok {
				return v, true
			}
		}
	}
}

func (c *Cache) lookup(ctx context.Context, ns Namespace, k string) ([]byte, bool) {
	if v, ok := c.mem.Get(k); ok {
		c.memHits.Add(1)
		c.observe(ns, tierMemory, "hit")
		return v, true
	}
	c.memMisses.Add(1)
	c.observe(ns, tierMemory, "miss")

	if c.dist == nil {
		return nil, false
	}
	return c.fromDistributed(ctx, ns, k)
}

func (c *Cache) fromDistributed(ctx context.Context, ns Namespace, k string) ([]byte, bool) {
	dctx, cancel := c.opContext(ctx)
	defer cancel()

	v, err := c.dist.Get(dctx, k)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.tierError(db.OpGet, k, err)
		}
		c.distMisses.Add(1)
		c.observe(ns, tierDistributed, "miss")
		return nil, false
	}
	c.distHits.Add(1)
	c.observe(ns, tierDistributed, "hit")
	c.mem.Set(k, v, c.capMemoryTTL(c.ttl(ns)))
	return v, true
}

func (c *Cache) store(ctx context.Context, k string, v []byte, ttl time.Duration) {
	c.mem.Set(k, v, c.capMemoryTTL(ttl))
	if c.dist == nil {
		return
	}
	dctx, cancel := c.opContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := c.dist.SetWithTTL(dctx, k, v, ttl); err != nil {
		c.tierError(db.OpSet, k, err)
	}
}

func (c *Cache) storageKey(ns Namespace, key string) string {
	h := sha256.Sum256([]byte(key))
	return c.namespacePrefix(ns) + hex.EncodeToString(h[:])
}

func (c *Cache) namespacePrefix(ns Namespace) string {
	return c.cfg.Prefix + "cache:" + string(ns) + ":"
}

func (c *Cache) ttl(ns Namespace) time.Duration {
	if ttl, ok := c.cfg.TTL[ns]; ok && ttl > 0 {
		return ttl
	}
	return defaultTTL
}

func (c *Cache) capMemoryTTL(ttl time.Duration) time.Duration {
	if c.cfg.MemoryMaxTTL > 0 && (ttl <= 0 || ttl > c.cfg.MemoryMaxTTL) {
		return c.cfg.MemoryMaxTTL
	}
	return ttl
}

func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}

func (c *Cache) tierError(op, key string, err error) {
	c.distErrs.Add(1)
	if c.errs != nil {
		c.errs.WithLabelValues(tierDistributed, op).Inc()
	}
	c.logger.Warn("Distributed cache unavailable",
		zap.String("op", op), zap.String("key", key), zap.Error(err))
}

func (c *Cache) observe(ns Namespace, tier, result string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(string(ns), tier, result).Inc()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
