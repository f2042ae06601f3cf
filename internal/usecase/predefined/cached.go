package predefined

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
)

// lookupRecord is the cached form of a lookup. Misses are cached too.
type lookupRecord struct {
	Found      bool     `json:"found"`
	Question   string   `json:"question,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Score      float64  `json:"score,omitempty"`
}

// Service serves lookups through the predefined-lookup cache namespace.
type Service struct {
	*Matcher
	cache  Cache
	logger *zap.Logger
}

// NewService wraps m with caching. c may be nil.
func NewService(m *Matcher, c Cache, logger *zap.Logger) *Service {
	return &Service{Matcher: m, cache: c, logger: logger}
}

// Lookup returns the best predefined answer for q. Cache errors fall back to a direct match.
func (s *Service) Lookup(ctx context.Context, q query.Query) (dompre.Match, bool) {
	if s.cache == nil || q.IsEmpty() {
		return s.Match(q)
	}

	// Replicas share the distributed tier, so the key names the table by content.
	key := s.Digest() + "\x1f" + q.Normalized()
	data, err := s.cache.GetOrCompute(ctx, cache.NamespacePredefinedLookup, key,
		func(context.Context) ([]byte, bool, error) {
			rec := lookupRecord{}
			if m, ok := s.Match(q); ok {
				rec = lookupRecord{
					Found:      true,
					Question:   m.Answer.Question(),
					Answer:     m.Answer.Text(),
					Keywords:   m.Answer.Keywords(),
					Confidence: m.Answer.Confidence(),
					Score:      m.Score,
				}
			}
			b, err := json.Marshal(rec)
			return b, err == nil, err
		})
	if err != nil {
		s.logger.Warn("Predefined lookup cache failed, matching directly", zap.Error(err))
		return s.Match(q)
	}

	var rec lookupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("Failed to decode cached predefined lookup", zap.Error(err))
		return s.Match(q)
	}
	if !rec.Found {
		return dompre.Match{}, false
	}
	a, err := dompre.New(rec.Question, rec.Answer, rec.Keywords, rec.Confidence)
	if err != nil {
		return s.Match(q)
	}
	return dompre.Match{Answer: a, Score: rec.Score}, true
}
