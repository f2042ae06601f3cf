// Package ask orchestrates the question answering pipeline: predefined
// answers, full-response cache, enhancement, hybrid retrieval, reranking,
// context assembly and generation.
package ask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/resilience"
)

// Deps are the pipeline collaborators. Predefined, Enhancer, Reranker, Cache
// and Executor may be nil; the matching stage is then skipped.
type Deps struct {
	Predefined Predefined
	Enhancer   Enhancer
	Searcher   Searcher
	Reranker   Reranker
	Generator  domain.Generator
	Cache      Cache
	Context    *ContextBuilder
	Executor   *resilience.Executor
}

// Metrics are the optional pipeline collectors.
type Metrics struct {
	StageDuration     *prometheus.HistogramVec // stage
	Outcomes          *prometheus.CounterVec   // source
	Degradations      *prometheus.CounterVec   // component
	PredefinedMatches *prometheus.CounterVec   // result
	LLMCallsSaved     prometheus.Counter
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithMetrics records stage durations and outcomes.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service answers questions.
type Service struct {
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time
}

// New creates the orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if deps.Context == nil {
		deps.Context = NewContextBuilder(nil, 0)
	}
	if cfg.NoResultsMessage == "" {
		cfg.NoResultsMessage = DefaultNoResultsMessage
	}
	if cfg.DegradedMessage == "" {
		cfg.DegradedMessage = DefaultDegradedMessage
	}
	s := &Service{deps: deps, cfg: cfg, logger: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ask runs the pipeline for one question.
// Only invalid requests, unknown providers and cancellation return an error;
// collaborator failures degrade the response instead.
func (s *Service) Ask(ctx context.Context, req Request) (answer.Response, error) {
	p, err := s.cfg.resolve(req)
	if err != nil {
		return answer.Response{}, err
	}

	id := uuid.NewString()
	ctx = logger.With(ctx, s.logger, zap.String("query_id", id))
	log := logger.FromContext(ctx)
	r := s.newRun(log)
	q := query.New(p.question, p.fingerprint()...)

	if resp, ok := s.checkPredefined(ctx, r, q); ok {
		return s.complete(r, resp, id, StateDone), nil
	}

	r.enter(StateFullResponseCacheCheck)
	if s.deps.Cache == nil {
		r.suspend()
		resp, err := s.pipeline(ctx, q, p, log)
		if err != nil {
			return answer.Response{}, err
		}
		return s.complete(r, resp, id, State(resp.PerformanceMetrics.FinalState)), nil
	}

	if resp, ok := s.cachedResponse(ctx, r, q); ok {
		resp.CacheKey = q.Fingerprint()
		return s.complete(r, resp, id, StateDone), nil
	}
	r.suspend()

	resp, _, err := s.shared(ctx, r, q, func(ctx context.Context) (answer.Response, error) {
		return s.pipeline(ctx, q, p, log)
	})
	if err != nil {
		return answer.Response{}, err
	}
	return s.complete(r, resp, id, State(resp.PerformanceMetrics.FinalState)), nil
}

// shared runs compute under the full-response single-flight, so identical
// requests in flight together run the pipeline once. computed is false when
// this caller received another request's response.
func (s *Service) shared(
	ctx context.Context, r *run, q query.Query, compute func(context.Context) (answer.Response, error),
) (resp answer.Response, computed bool, err error) {
	data, err := s.deps.Cache.GetOrCompute(ctx, cache.NamespaceFullResponse, q.Fingerprint(),
		func(ctx context.Context) ([]byte, bool, error) {
			computed = true
			resp, err := compute(ctx)
			if err != nil {
				return nil, false, err
			}
			b, err := json.Marshal(resp)
			if err != nil {
				return nil, false, fmt.Errorf("encode response: %w", err)
			}
			return b, resp.Source == answer.SourceGenerated, nil
		})
	if err != nil {
		return answer.Response{}, false, fmt.Errorf("ask: %w", err)
	}

	if err := json.Unmarshal(data, &resp); err != nil {
		return answer.Response{}, false, fmt.Errorf("decode response: %w", err)
	}
	if !computed {
		markCached(&resp)
		r.cacheHit("full_response", true)
	}
	if resp.Source == answer.SourceGenerated {
		resp.CacheKey = q.Fingerprint()
	}
	return resp, computed, nil
}

func (s *Service) checkPredefined(ctx context.Context, r *run, q query.Query) (answer.Response, bool) {
	r.enter(StatePredefinedCheck)
	if s.deps.Predefined == nil {
		return answer.Response{}, false
	}

	m, ok := s.deps.Predefined.Lookup(ctx, q)
	if s.metrics.PredefinedMatches != nil {
		result := "miss"
		if ok {
			result = "match"
		}
		s.metrics.PredefinedMatches.WithLabelValues(result).Inc()
	}
	if !ok {
		r.cacheHit("predefined", false)
		return answer.Response{}, false
	}

	r.cacheHit("predefined", true)
	resp := answer.Response{
		Answer:             m.Answer.Text(),
		Source:             answer.SourcePredefined,
		Sources:            []answer.SourceRef{},
		ConfidenceScore:    m.Answer.Confidence(),
		PerformanceMetrics: answer.NewMetrics(),
	}
	resp.PerformanceMetrics.LLMCallsSaved = true
	resp.PerformanceMetrics.MatchedQuestion = m.Answer.Question()
	return resp, true
}

func (s *Service) cachedResponse(ctx context.Context, r *run, q query.Query) (answer.Response, bool) {
	data, ok := s.deps.Cache.Get(ctx, cache.NamespaceFullResponse, q.Fingerprint())
	r.cacheHit("full_response", ok)
	if !ok {
		return answer.Response{}, false
	}
	var resp answer.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		r.log.Warn("Failed to decode cached response, recomputing", zap.Error(err))
		r.cacheHit("full_response", false)
		return answer.Response{}, false
	}
	markCached(&resp)
	return resp, true
}

// markCached resets per-run metrics on a response served from cache.
func markCached(resp *answer.Response) {
	resp.CacheHit = true
	resp.PerformanceMetrics = answer.NewMetrics()
	resp.PerformanceMetrics.LLMCallsSaved = true
	resp.PerformanceMetrics.FinalState = string(StateDone)
}

// prepared is everything up to generation.
type prepared struct {
	resp   answer.Response
	prompt string
}

// pipeline runs ENHANCE through GENERATE on its own run, which may live on
// another goroutine than the caller's. The response carries its metrics.
func (s *Service) pipeline(ctx context.Context, q query.Query, p params, log *zap.Logger) (answer.Response, error) {
	r := s.newRun(log)

	pr, found, err := s.prepare(ctx, r, q, p)
	if err != nil {
		return answer.Response{}, err
	}
	if !found {
		resp := pr.resp
		resp.PerformanceMetrics = r.finish(StateNoResults)
		return resp, nil
	}

	r.enter(StateGenerate)
	resp := pr.resp
	gen, err := s.generate(ctx, pr.prompt, p)
	switch {
	case err == nil:
		resp.Answer = gen.Text
		resp.Source = answer.SourceGenerated
		if gen.Model != "" {
			resp.Model = gen.Model
		}
	case ctx.Err() != nil:
		return answer.Response{}, ctx.Err()
	default:
		log.Warn("Generation failed, returning sources only", zap.String("provider", p.provider), zap.Error(err))
		r.degrade("generator")
		resp.Answer = s.cfg.DegradedMessage
		resp.Source = answer.SourceDegraded
	}

	if resp.Source == answer.SourceGenerated {
		r.enter(StateCacheStore)
	}
	resp.PerformanceMetrics = r.finish(StateDone)
	return resp, nil
}

// prepare runs ENHANCE, RETRIEVE_FUSE_DEDUP, RERANK and CONTEXT_BUILD.
// found is false when retrieval came back empty; resp is then the no-results answer.
func (s *Service) prepare(ctx context.Context, r *run, q query.Query, p params) (prepared, bool, error) {
	resp := answer.Response{
		Provider: p.provider,
		Model:    p.model,
		Sources:  []answer.SourceRef{},
	}

	r.enter(StateEnhance)
	variants := query.BuildVariants(q, nil)
	if s.deps.Enhancer != nil {
		er := s.deps.Enhancer.Enhance(ctx, q)
		variants = er.Variants
		r.cacheHit("query_enhancement", er.CacheHit)
		if er.Degraded {
			r.degrade("enhancer")
		}
	}
	resp.EnhancedQueries = query.Texts(variants)
	if err := ctx.Err(); err != nil {
		return prepared{}, false, err
	}

	r.enter(StateRetrieveFuseDedup)
	sr, err := s.deps.Searcher.Retrieve(ctx, variants)
	for _, m := range sr.Degraded {
		r.degrade(m + "_retriever")
	}
	switch {
	case errors.Is(err, domain.ErrNoResults):
		resp.Answer = s.cfg.NoResultsMessage
		resp.Source = answer.SourceNoResults
		return prepared{resp: resp}, false, nil
	case err != nil:
		return prepared{}, false, err
	}
	resp.SearchResults = len(sr.Documents)

	r.enter(StateRerank)
	docs := sr.Documents
	if s.deps.Reranker != nil {
		rr := s.deps.Reranker.Rerank(ctx, q, docs, p.topK)
		docs = rr.Documents
		r.cacheHit("rerank", rr.CacheHit)
		if rr.Degraded {
			r.degrade("reranker")
		}
	} else if len(docs) > p.topK {
		docs = docs[:p.topK]
	}
	resp.RankedResults = len(docs)
	if err := ctx.Err(); err != nil {
		return prepared{}, false, err
	}

	r.enter(StateContextBuild)
	contextText, used := s.deps.Context.Build(docs)
	docs = docs[:used]
	resp.Sources = s.sourceRefs(docs)
	resp.ContextFound = len(docs) > 0
	resp.ConfidenceScore = s.confidence(docs)

	return prepared{resp: resp, prompt: Prompt(contextText, p.question)}, true, nil
}

func (s *Service) generate(ctx context.Context, prompt string, p params) (domain.Generation, error) {
	opts := domain.GenerateOptions{
		Provider:    p.provider,
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	call := func(ctx context.Context) (domain.Generation, error) {
		return s.deps.Generator.Generate(ctx, prompt, opts)
	}
	if s.deps.Executor != nil {
		return resilience.Call(ctx, s.deps.Executor, "generator", s.cfg.GeneratorTimeout, call)
	}
	if s.cfg.GeneratorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GeneratorTimeout)
		defer cancel()
	}
	return call(ctx)
}

// complete stamps the request-specific fields, merges the outer run and records the outcome.
func (s *Service) complete(r *run, resp answer.Response, id string, terminal State) answer.Response {
	if terminal == "" {
		terminal = StateDone
	}
	r.finish(terminal)
	r.merge(&resp.PerformanceMetrics)
	resp.PerformanceMetrics.FinalState = string(terminal)
	if resp.Sources == nil {
		resp.Sources = []answer.SourceRef{}
	}

	resp.ID = id
	resp.Timestamp = s.now().UTC()
	resp.ProcessingTimeMs = ms(s.now().Sub(r.start))

	if resp.Source == answer.SourcePredefined || resp.CacheHit {
		resp.PerformanceMetrics.LLMCallsSaved = true
	}
	if resp.PerformanceMetrics.LLMCallsSaved && s.metrics.LLMCallsSaved != nil {
		s.metrics.LLMCallsSaved.Inc()
	}
	if s.metrics.Outcomes != nil {
		s.metrics.Outcomes.WithLabelValues(string(resp.Source)).Inc()
	}

	r.log.Info("Question answered",
		zap.String("source", string(resp.Source)),
		zap.Bool("cache_hit", resp.CacheHit),
		zap.Int("sources", len(resp.Sources)),
		zap.Strings("degraded", resp.PerformanceMetrics.Degraded),
		zap.Float64("processing_time_ms", resp.ProcessingTimeMs),
	)
	return resp
}

func (s *Service) sourceRefs(docs []retrieval.Document) []answer.SourceRef {
	refs := make([]answer.SourceRef, len(docs))
	for i := range docs {
		d := docs[i].Clone()
		refs[i] = answer.SourceRef{
			Rank:        i + 1,
			DocumentID:  d.ID,
			Content:     d.Content,
			Metadata:    d.Metadata,
			FusedScore:  d.FusedScore,
			RerankScore: d.RerankScore,
			Score:       d.FinalScore(s.cfg.Beta),
		}
	}
	return refs
}

// confidence is the mean final score of the sources.
func (s *Service) confidence(docs []retrieval.Document) float64 {
	if len(docs) == 0 {
		return 0
	}
	sum := 0.0
	for i := range docs {
		sum += docs[i].FinalScore(s.cfg.Beta)
	}
	return sum / float64(len(docs))
}
