// Package enhance rephrases the user's question into extra retrieval variants.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/resilience"
)

// minVariantLen drops one-word answers and leftovers like "Variante 1:".
const minVariantLen = 11

const promptTemplate = `Vous êtes un expert en reformulation de requêtes pour améliorer la recherche documentaire.

Requête originale: "%s"

Générez %d variantes de cette requête qui:
1. Utilisent des synonymes et termes alternatifs
2. Reformulent la question sous un angle différent
3. Sont plus spécifiques ou plus générales selon le contexte

Répondez uniquement avec les %d variantes, une par ligne, sans numérotation ni formatage:`

var listMarker = regexp.MustCompile(`^(?:[-*•]+|\(?\d+[.):-]|[a-zA-Z][.)])\s*`)

// Config tunes the enhancer.
type Config struct {
	// MaxVariants caps generated variants. Zero disables enhancement.
	MaxVariants int
	Timeout     time.Duration
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Result is the variant list plus what happened producing it.
type Result struct {
	Variants []query.Variant
	CacheHit bool
	// Degraded is set when generation failed and only the original is returned.
	Degraded bool
}

// Service generates query variants through a generator, cached per normalized query.
type Service struct {
	gen    Generator
	cache  Cache
	exec   *resilience.Executor
	cfg    Config
	logger *zap.Logger
}

// New creates an enhancer. c and exec may be nil.
func New(gen Generator, c Cache, exec *resilience.Executor, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxVariants < 0 {
		cfg.MaxVariants = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	return &Service{gen: gen, cache: c, exec: exec, cfg: cfg, logger: logger}
}

// Enhance returns q as variant 0 followed by at most MaxVariants distinct rephrasings.
// It never fails: any generator problem yields the original alone.
func (s *Service) Enhance(ctx context.Context, q query.Query) Result {
	only := Result{Variants: query.BuildVariants(q, nil)}
	if s.cfg.MaxVariants == 0 || s.gen == nil || q.IsEmpty() {
		return only
	}

	if s.cache == nil {
		texts, err := s.generate(ctx, q)
		if err != nil {
			s.fallback(ctx, err)
			return Result{Variants: only.Variants, Degraded: true}
		}
		return Result{Variants: s.build(q, texts)}
	}

	computed := false
	var genErr error
	key := strconv.Itoa(s.cfg.MaxVariants) + "\x1f" + q.Normalized()
	data, err := s.cache.GetOrCompute(ctx, cache.NamespaceQueryEnhancement, key,
		func(ctx context.Context) ([]byte, bool, error) {
			computed = true
			texts, err := s.generate(ctx, q)
			if err != nil {
				genErr = err
				return nil, false, nil
			}
			b, err := json.Marshal(texts)
			return b, err == nil, err
		})
	if err != nil {
		s.fallback(ctx, err)
		return Result{Variants: only.Variants, Degraded: true}
	}
	if genErr != nil {
		s.fallback(ctx, genErr)
		return Result{Variants: only.Variants, Degraded: true}
	}
	if data == nil {
		// Another caller's computation failed; its error was already logged there.
		return Result{Variants: only.Variants, Degraded: true}
	}

	var texts []string
	if err := json.Unmarshal(data, &texts); err != nil {
		s.fallback(ctx, fmt.Errorf("decode cached variants: %w", err))
		return Result{Variants: only.Variants, Degraded: true}
	}
	return Result{Variants: s.build(q, texts), CacheHit: !computed}
}

func (s *Service) generate(ctx context.Context, q query.Query) ([]string, error) {
	n := s.cfg.MaxVariants
	prompt := fmt.Sprintf(promptTemplate, q.Raw(), n, n)
	opts := domain.GenerateOptions{
		Provider:    s.cfg.Provider,
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	call := func(ctx context.Context) (domain.Generation, error) {
		return s.gen.Generate(ctx, prompt, opts)
	}

	var (
		g   domain.Generation
		err error
	)
	if s.exec != nil {
		g, err = resilience.Call(ctx, s.exec, "enhancer", s.cfg.Timeout, call)
	} else {
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		g, err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("generate variants: %w", err)
	}
	return ParseVariants(g.Text, n), nil
}

// build keeps the first MaxVariants distinct rephrasings after dedup against the original.
func (s *Service) build(q query.Query, texts []string) []query.Variant {
	vs := query.BuildVariants(q, texts)
	if len(vs) > s.cfg.MaxVariants+1 {
		vs = vs[:s.cfg.MaxVariants+1]
	}
	return vs
}

func (s *Service) fallback(ctx context.Context, err error) {
	logger.FromContext(ctx, s.logger).Warn("Query enhancement failed, using original query only", zap.Error(err))
}

// ParseVariants extracts rephrasings from generator output: one per line,
// trimmed, list markers and wrapping quotes removed, short lines dropped.
// It keeps up to 2n candidates so dedup against the original still leaves n.
func ParseVariants(text string, n int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, "\"'«» ")
		if utf8.RuneCountInString(line) < minVariantLen {
			continue
		}
		out = append(out, line)
		if n > 0 && len(out) >= 2*n {
			break
		}
	}
	return out
}
