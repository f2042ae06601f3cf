// Package app assembles the ask pipeline from a validated configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/config"
	dbRedis "github.com/kailas-cloud/ragdex/internal/db/redis"
	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/repository/embcache"
	"github.com/kailas-cloud/ragdex/internal/repository/fulltext"
	predefinedrepo "github.com/kailas-cloud/ragdex/internal/repository/predefined"
	qdrantrepo "github.com/kailas-cloud/ragdex/internal/repository/qdrant"
	searchrepo "github.com/kailas-cloud/ragdex/internal/repository/search"
	"github.com/kailas-cloud/ragdex/internal/resilience"
	"github.com/kailas-cloud/ragdex/internal/transport/anthropic"
	"github.com/kailas-cloud/ragdex/internal/transport/crossencoder"
	"github.com/kailas-cloud/ragdex/internal/transport/openai"
	askuc "github.com/kailas-cloud/ragdex/internal/usecase/ask"
	embeddinguc "github.com/kailas-cloud/ragdex/internal/usecase/embedding"
	enhanceuc "github.com/kailas-cloud/ragdex/internal/usecase/enhance"
	"github.com/kailas-cloud/ragdex/internal/usecase/generation"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	predefineduc "github.com/kailas-cloud/ragdex/internal/usecase/predefined"
	rerankuc "github.com/kailas-cloud/ragdex/internal/usecase/rerank"
	searchuc "github.com/kailas-cloud/ragdex/internal/usecase/search"
)

// App is the wired pipeline plus what the HTTP layer exposes next to it.
type App struct {
	Ask *askuc.Service
	// Predefined is nil when canned answers are disabled.
	Predefined *predefineduc.Service
	Cache      *cache.Cache
	Health     *healthuc.Service
	Generators *generation.Registry

	closers []func()
}

// Options tweak the assembly.
type Options struct {
	// Metrics wires the Prometheus collectors. Callers register them.
	Metrics bool
	// ReadinessTimeout bounds the wait for Redis. Zero skips the wait.
	ReadinessTimeout time.Duration
}

// Close releases connections in reverse creation order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build wires every component. On error, whatever was opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Username:   cfg.Database.Username,
		Password:   cfg.Database.Password,
		DB:         cfg.Database.DB,
		Standalone: cfg.Database.Standalone,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis store: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	if opts.ReadinessTimeout > 0 {
		if err := store.WaitForReady(ctx, opts.ReadinessTimeout); err != nil {
			return nil, fmt.Errorf("redis not ready: %w", err)
		}
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Database.Addrs))
	}

	var executorOpts []resilience.Option
	if opts.Metrics {
		executorOpts = append(executorOpts, resilience.WithMetrics(metrics.ExternalCallDuration, metrics.ExternalCallErrorsTotal))
	}
	exec := resilience.NewExecutor(resilienceConfig(cfg.Resilience), logger, executorOpts...)

	if a.Cache, err = a.buildCache(cfg, store, logger, opts.Metrics); err != nil {
		return nil, err
	}

	embedder, embedderCheck := buildEmbedder(cfg, a.Cache, logger)

	searchSvc, denseCheck, err := a.buildSearch(cfg, store, embedder, exec, logger)
	if err != nil {
		return nil, err
	}

	if a.Generators, err = buildGenerators(cfg.Generation, logger); err != nil {
		return nil, err
	}

	deps := askuc.Deps{
		Searcher:  searchSvc,
		Generator: a.Generators,
		Cache:     a.Cache,
		Executor:  exec,
		Context:   buildContextBuilder(cfg.Generation, logger),
	}

	if *cfg.Retrieval.MaxVariants > 0 {
		deps.Enhancer = enhanceuc.New(a.Generators, a.Cache, exec, enhanceConfig(cfg), logger)
	}

	var crossEncoder *crossencoder.Client
	if cfg.Rerank.URL != "" {
		crossEncoder = crossencoder.New(crossencoder.Config{
			URL:    cfg.Rerank.URL,
			Model:  cfg.Rerank.Model,
			APIKey: cfg.Rerank.APIKey,
		})
		deps.Reranker = rerankuc.New(crossEncoder, a.Cache, exec, rerankuc.Config{
			Beta:         *cfg.Rerank.Beta,
			TopK:         cfg.Rerank.TopK,
			Timeout:      config.Ms(cfg.Timeouts.CrossEncoder),
			SnippetRunes: cfg.Rerank.SnippetRunes,
		}, logger)
	} else {
		logger.Info("Cross-encoder not configured, answers use fused order")
	}

	if *cfg.Predefined.Enabled {
		answers, err := predefinedrepo.Load(cfg.Predefined.Path)
		if err != nil {
			return nil, fmt.Errorf("predefined answers: %w", err)
		}
		matcher := predefineduc.NewMatcher(answers, cfg.Predefined.MatchThreshold)
		a.Predefined = predefineduc.NewService(matcher, a.Cache, logger)
		deps.Predefined = a.Predefined
		logger.Info("Predefined answers loaded", zap.Int("count", len(answers)))
	}

	var askOpts []askuc.Option
	if opts.Metrics {
		askOpts = append(askOpts, askuc.WithMetrics(askuc.Metrics{
			StageDuration:     metrics.StageDuration,
			Outcomes:          metrics.OutcomesTotal,
			Degradations:      metrics.DegradationsTotal,
			PredefinedMatches: metrics.PredefinedMatchesTotal,
			LLMCallsSaved:     metrics.LLMCallsSavedTotal,
		}))
	}
	a.Ask = askuc.New(deps, askConfig(cfg), logger, askOpts...)

	checks := []healthuc.Check{
		{Name: "redis", Checker: store, Critical: true},
		{Name: "embedding", Checker: embedderCheck, Critical: true},
		{Name: "generator", Checker: a.Generators},
	}
	if denseCheck != nil {
		checks = append(checks, healthuc.Check{Name: "qdrant", Checker: denseCheck, Critical: true})
	}
	if crossEncoder != nil {
		checks = append(checks, healthuc.Check{Name: "cross_encoder", Checker: crossEncoder})
	}
	a.Health = healthuc.New(logger, checks...)

	return a, nil
}

func (a *App) buildCache(cfg config.Config, store *dbRedis.Store, logger *zap.Logger, withMetrics bool) (*cache.Cache, error) {
	var mem cache.Memory
	switch cfg.Cache.MemoryBackend {
	case "ristretto":
		r, err := cache.NewRistretto(int64(cfg.Cache.MemorySize))
		if err != nil {
			return nil, fmt.Errorf("create memory tier: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		mem = r
	default:
		l, err := cache.NewLRU(cfg.Cache.MemorySize)
		if err != nil {
			return nil, fmt.Errorf("create memory tier: %w", err)
		}
		mem = l
	}

	ttl := make(map[cache.Namespace]time.Duration, len(cfg.Cache.TTLSec))
	for name, sec := range cfg.Cache.TTLSec {
		ns, err := cache.ParseNamespace(name)
		if err != nil {
			return nil, fmt.Errorf("cache.ttl_sec: %w", errors.Join(domain.ErrInvalidConfig, err))
		}
		ttl[ns] = config.Sec(sec)
	}

	var cacheOpts []cache.Option
	if withMetrics {
		cacheOpts = append(cacheOpts, cache.WithMetrics(metrics.CacheLookupsTotal, metrics.CacheErrorsTotal))
	}
	return cache.New(cache.Config{
		Prefix:          cfg.Storage.KeyPrefix,
		TTL:             ttl,
		MemoryMaxTTL:    config.Sec(cfg.Cache.MemoryMaxTTLSec),
		DistributedLock: cfg.Cache.DistributedLock,
		LockTTL:         config.Ms(cfg.Cache.LockTTLMs),
		OpTimeout:       config.Ms(cfg.Timeouts.Cache),
	}, mem, store, logger, cacheOpts...), nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Instrumented -> Cached -> Instruction.
// The instruction is outermost so the cache key includes it. The returned
// checker probes the provider, bypassing the cache.
func buildEmbedder(cfg config.Config, c *cache.Cache, logger *zap.Logger) (domain.Embedder, healthuc.Checker) {
	e := cfg.Embedding
	base := openai.NewEmbedder(openai.EmbedderConfig{
		APIKey:     e.APIKey,
		BaseURL:    e.BaseURL,
		Model:      e.Model,
		Dimensions: e.Dimensions,
		Provider:   e.Provider,
	}, logger)

	instrumented := embeddinguc.NewInstrumentedEmbedder(base, e.Provider, e.Model, config.Ms(cfg.Timeouts.Embedding), logger)
	cached := embcache.New(instrumented, c, e.Model, logger)
	return embeddinguc.WithInstruction(cached, e.QueryInstruction), instrumented
}

// buildSearch picks the dense and sparse backends. The returned checker is
// non-nil when the dense backend lives outside Redis.
func (a *App) buildSearch(
	cfg config.Config, store *dbRedis.Store, embedder domain.Embedder,
	exec *resilience.Executor, logger *zap.Logger,
) (*searchuc.Service, healthuc.Checker, error) {
	r := cfg.Retrieval
	redisCfg := searchrepo.Config{
		IndexName:    r.IndexName,
		KeyPrefix:    r.DocumentPrefix,
		VectorField:  r.VectorField,
		ContentField: r.ContentField,
		Language:     r.Language,
	}

	var (
		dense      searchuc.Retriever
		sparse     searchuc.Retriever
		denseCheck healthuc.Checker
	)

	switch r.DenseBackend {
	case "qdrant":
		client, err := qdrantrepo.NewClient(qdrantrepo.ClientConfig{
			Addr:   cfg.Qdrant.Addr,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		dense = qdrantrepo.NewDense(client, embedder, qdrantrepo.Config{
			Collection:   cfg.Qdrant.Collection,
			VectorName:   cfg.Qdrant.VectorName,
			IDField:      cfg.Qdrant.IDField,
			ContentField: cfg.Qdrant.ContentField,
		})
		denseCheck = healthuc.CheckerFunc(func(ctx context.Context) error {
			if _, err := client.HealthCheck(ctx); err != nil {
				return fmt.Errorf("qdrant health: %w", err)
			}
			return nil
		})
	default:
		dense = searchrepo.NewDense(store, embedder, redisCfg)
	}

	switch r.SparseBackend {
	case "bleve":
		idx, err := fulltext.Open(cfg.Bleve.Path, fulltext.Config{
			ContentField: r.ContentField,
			Analyzer:     cfg.Bleve.Analyzer,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = idx.Close() })
		sparse = fulltext.NewSparse(idx, fulltext.Config{ContentField: r.ContentField, Analyzer: cfg.Bleve.Analyzer})
	default:
		sparse = searchrepo.NewSparse(store, redisCfg)
	}

	logger.Info("Retrieval backends selected",
		zap.String("dense", r.DenseBackend),
		zap.String("sparse", r.SparseBackend),
	)

	return searchuc.New(dense, sparse, exec, searchuc.Tuning{
		Alpha:               *r.Alpha,
		HybridBoost:         r.HybridBoostFactor,
		TopKDense:           r.TopKDense,
		TopKSparse:          r.TopKSparse,
		MaxParallelVariants: r.MaxParallelVariants,
		DenseTimeout:        config.Ms(cfg.Timeouts.Dense),
		SparseTimeout:       config.Ms(cfg.Timeouts.Sparse),
	}, logger), denseCheck, nil
}

func buildGenerators(g config.GenerationConfig, logger *zap.Logger) (*generation.Registry, error) {
	providers := make([]generation.Provider, 0, len(g.Providers))
	for name, p := range g.Providers {
		if name == anthropic.Provider {
			providers = append(providers, anthropic.NewGenerator(anthropic.Config{
				APIKey:  p.APIKey,
				BaseURL: p.BaseURL,
				Model:   p.Model,
			}, logger))
			continue
		}
		gen, err := openai.NewGenerator(openai.GeneratorConfig{
			Provider: name,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    p.Model,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("generation provider %s: %w", name, err)
		}
		providers = append(providers, gen)
	}
	reg, err := generation.NewRegistry(g.DefaultProvider, providers...)
	if err != nil {
		return nil, fmt.Errorf("generation registry: %w", err)
	}
	logger.Info("Generators registered", zap.Strings("providers", reg.Names()), zap.String("default", reg.Default()))
	return reg, nil
}

func buildContextBuilder(g config.GenerationConfig, logger *zap.Logger) *askuc.ContextBuilder {
	counter, err := askuc.TiktokenCounter(g.Encoding)
	if err != nil {
		logger.Warn("Tokenizer unavailable, context budget uses the approximate counter",
			zap.String("encoding", g.Encoding), zap.Error(err))
		counter = nil
	}
	return askuc.NewContextBuilder(counter, g.ContextMaxTokens)
}

func enhanceConfig(cfg config.Config) enhanceuc.Config {
	provider := cfg.Enhance.Provider
	if provider == "" {
		provider = cfg.Generation.DefaultProvider
	}
	model := cfg.Enhance.Model
	if model == "" {
		model = cfg.Generation.Providers[provider].Model
	}
	return enhanceuc.Config{
		MaxVariants: *cfg.Retrieval.MaxVariants,
		Timeout:     config.Ms(cfg.Timeouts.Enhancer),
		Provider:    provider,
		Model:       model,
		Temperature: cfg.Enhance.Temperature,
		MaxTokens:   cfg.Enhance.MaxTokens,
	}
}

func askConfig(cfg config.Config) askuc.Config {
	models := make(map[string]string, len(cfg.Generation.Providers))
	for name, p := range cfg.Generation.Providers {
		models[name] = p.Model
	}
	return askuc.Config{
		DefaultProvider:  cfg.Generation.DefaultProvider,
		Models:           models,
		Temperature:      cfg.Generation.Temperature,
		MaxTokens:        cfg.Generation.MaxTokens,
		TopK:             cfg.Rerank.TopK,
		Beta:             *cfg.Rerank.Beta,
		GeneratorTimeout: config.Ms(cfg.Timeouts.Generator),
		NoResultsMessage: cfg.Generation.NoResultsMessage,
	}
}

func resilienceConfig(r config.ResilienceConfig) resilience.Config {
	c := resilience.DefaultConfig()
	if r.RetryMaxAttempts > 0 {
		c.RetryMaxAttempts = r.RetryMaxAttempts
	}
	if r.RetryInitialBackoffMs > 0 {
		c.RetryInitialBackoff = config.Ms(r.RetryInitialBackoffMs)
	}
	if r.RetryMaxBackoffMs > 0 {
		c.RetryMaxBackoff = config.Ms(r.RetryMaxBackoffMs)
	}
	if r.BreakerEnabled != nil {
		c.BreakerEnabled = *r.BreakerEnabled
	}
	if r.BreakerMinRequests > 0 {
		c.BreakerMinRequests = r.BreakerMinRequests
	}
	if r.BreakerFailureRatio > 0 {
		c.BreakerFailureRatio = r.BreakerFailureRatio
	}
	if r.BreakerOpenTimeoutSec > 0 {
		c.BreakerOpenTimeout = config.Sec(r.BreakerOpenTimeoutSec)
	}
	return c
}
