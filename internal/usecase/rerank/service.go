// Package rerank reorders fused candidates with a cross-encoder.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/resilience"
)

// DefaultBeta weights the fused score in the combined score.
const DefaultBeta = 0.3

// Config holds the validated rerank parameters.
type Config struct {
	Beta    float64
	TopK    int
	Timeout time.Duration
	// SnippetRunes truncates document content sent to the cross-encoder. Zero keeps it whole.
	SnippetRunes int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Beta: DefaultBeta, TopK: 5, Timeout: 3 * time.Second, SnippetRunes: 1000}
}

// Result is the reranked top-k with what happened producing it.
type Result struct {
	Documents []retrieval.Document
	CacheHit  bool
	// Degraded is set when the cross-encoder failed and fused order was kept.
	Degraded bool
}

// Service combines fused and cross-encoder scores.
type Service struct {
	ce     CrossEncoder
	cache  Cache
	exec   *resilience.Executor
	cfg    Config
	logger *zap.Logger
}

// New creates a reranker. A nil ce keeps fused order; c and exec may be nil.
func New(ce CrossEncoder, c Cache, exec *resilience.Executor, cfg Config, logger *zap.Logger) *Service {
	return &Service{ce: ce, cache: c, exec: exec, cfg: cfg, logger: logger}
}

// Rerank scores docs against the original query and returns at most topK
// documents (Config.TopK when topK <= 0) ordered by combined score desc,
// fused desc, id asc. On cross-encoder failure it returns the fused order
// truncated the same way. docs must already be in fused order; they are not modified.
func (s *Service) Rerank(ctx context.Context, original query.Query, docs []retrieval.Document, topK int) Result {
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if len(docs) == 0 {
		return Result{Documents: []retrieval.Document{}}
	}
	if s.ce == nil {
		return Result{Documents: truncate(fusedOrder(docs), topK)}
	}

	scores, hit, err := s.scores(ctx, original, docs)
	if err != nil {
		logger.FromContext(ctx, s.logger).Warn("Rerank failed, keeping fused order",
			zap.Int("candidates", len(docs)), zap.Error(err))
		return Result{Documents: truncate(fusedOrder(docs), topK), Degraded: true}
	}

	out := make([]retrieval.Document, len(docs))
	for i := range docs {
		out[i] = docs[i].Clone()
		out[i].RerankScore = retrieval.Float(scores[i])
	}
	Sort(out, s.cfg.Beta)
	return Result{Documents: truncate(out, topK), CacheHit: hit}
}

// scores returns one [0,1] score per doc, cached per (query, ordered ids).
func (s *Service) scores(ctx context.Context, original query.Query, docs []retrieval.Document) ([]float64, bool, error) {
	if s.cache == nil {
		sc, err := s.score(ctx, original, docs)
		return sc, false, err
	}

	computed := false
	var scoreErr error
	key := query.Fingerprint(append([]string{original.Normalized()}, retrieval.IDs(docs)...)...)
	data, err := s.cache.GetOrCompute(ctx, cache.NamespaceRerank, key,
		func(ctx context.Context) ([]byte, bool, error) {
			computed = true
			sc, err := s.score(ctx, original, docs)
			if err != nil {
				scoreErr = err
				return nil, false, nil
			}
			b, err := json.Marshal(sc)
			return b, err == nil, err
		})
	switch {
	case err != nil:
		return nil, false, err
	case scoreErr != nil:
		return nil, false, scoreErr
	case data == nil:
		return nil, false, fmt.Errorf("rerank: shared computation failed")
	}

	var sc []float64
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, false, fmt.Errorf("decode cached rerank scores: %w", err)
	}
	if len(sc) != len(docs) {
		return nil, false, fmt.Errorf("cached rerank scores: got %d, want %d", len(sc), len(docs))
	}
	return sc, !computed, nil
}

func (s *Service) score(ctx context.Context, original query.Query, docs []retrieval.Document) ([]float64, error) {
	texts := make([]string, len(docs))
	for i := range docs {
		texts[i] = snippet(docs[i].Content, s.cfg.SnippetRunes)
	}

	call := func(ctx context.Context) ([]float64, error) {
		return s.ce.Score(ctx, original.Raw(), texts)
	}

	var (
		raw []float64
		err error
	)
	if s.exec != nil {
		raw, err = resilience.Call(ctx, s.exec, "cross_encoder", s.cfg.Timeout, call)
	} else {
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		raw, err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("cross-encoder: %w", err)
	}
	if len(raw) != len(docs) {
		return nil, fmt.Errorf("cross-encoder returned %d scores for %d documents", len(raw), len(docs))
	}
	return ToUnit(raw), nil
}

func fusedOrder(docs []retrieval.Document) []retrieval.Document {
	out := make([]retrieval.Document, len(docs))
	for i := range docs {
		out[i] = docs[i].Clone()
		out[i].RerankScore = nil
	}
	return out
}

func truncate(docs []retrieval.Document, topK int) []retrieval.Document {
	if topK > 0 && len(docs) > topK {
		return docs[:topK]
	}
	return docs
}

// Sort orders by combined score desc, then fused desc, then id asc.
func Sort(docs []retrieval.Document, beta float64) {
	slices.SortStableFunc(docs, func(a, b retrieval.Document) int {
		ca, cb := a.FinalScore(beta), b.FinalScore(beta)
		switch {
		case ca > cb:
			return -1
		case ca < cb:
			return 1
		case a.FusedScore > b.FusedScore:
			return -1
		case a.FusedScore < b.FusedScore:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// ToUnit returns scores unchanged when all lie in [0,1]. Otherwise the whole
// batch goes through the logistic function, which keeps their order.
func ToUnit(scores []float64) []float64 {
	out := slices.Clone(scores)
	for _, v := range scores {
		if v < 0 || v > 1 || math.IsNaN(v) {
			for i, x := range out {
				out[i] = logistic(x)
			}
			return out
		}
	}
	return out
}

func logistic(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

func snippet(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
