// Package search runs hybrid retrieval over query variants and merges the results.
package search

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/resilience"
)

// Tuning holds the validated retrieval parameters.
type Tuning struct {
	Alpha               float64
	HybridBoost         float64
	TopKDense           int
	TopKSparse          int
	MaxParallelVariants int
	DenseTimeout        time.Duration
	SparseTimeout       time.Duration
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		Alpha:               DefaultAlpha,
		HybridBoost:         DefaultHybridBoost,
		TopKDense:           10,
		TopKSparse:          10,
		MaxParallelVariants: 4,
		DenseTimeout:        2 * time.Second,
		SparseTimeout:       2 * time.Second,
	}
}

// Result is the deduplicated candidate set of one request.
type Result struct {
	Documents []retrieval.Document
	// Candidates counts fused documents before dedup, across variants.
	Candidates int
	// Degraded names the modalities that failed for at least one variant.
	Degraded []string
}

// Service retrieves dense and sparse hits for every variant concurrently,
// fuses each variant's lists, then deduplicates across variants.
type Service struct {
	dense  Retriever
	sparse Retriever
	exec   *resilience.Executor
	tuning Tuning
	logger *zap.Logger
}

// New creates a search service. Either retriever may be nil to disable its modality.
// exec may be nil, leaving only the per-call timeouts.
func New(dense, sparse Retriever, exec *resilience.Executor, t Tuning, logger *zap.Logger) *Service {
	if t.MaxParallelVariants <= 0 {
		t.MaxParallelVariants = 1
	}
	return &Service{dense: dense, sparse: sparse, exec: exec, tuning: t, logger: logger}
}

// Retrieve runs the variants and returns fused, deduplicated documents.
// A failing retriever degrades to an empty list for that modality. When no
// modality returned anything for any variant the error is domain.ErrNoResults.
func (s *Service) Retrieve(ctx context.Context, variants []query.Variant) (Result, error) {
	lists := make([][]retrieval.Document, len(variants))

	var (
		mu       sync.Mutex
		degraded = make(map[string]struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.tuning.MaxParallelVariants)
	for i, v := range variants {
		g.Go(func() error {
			dense, sparse, failed := s.retrieveVariant(gctx, v)
			lists[i] = Fuse(v.ID, dense, sparse, s.tuning.Alpha)
			if len(failed) > 0 {
				mu.Lock()
				for _, m := range failed {
					degraded[m] = struct{}{}
				}
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("retrieve variants: %w", err)
	}

	res := Result{Documents: Dedup(lists, s.tuning.HybridBoost)}
	for _, l := range lists {
		res.Candidates += len(l)
	}
	for m := range degraded {
		res.Degraded = append(res.Degraded, m)
	}
	slices.Sort(res.Degraded)

	if len(res.Documents) == 0 {
		return res, domain.ErrNoResults
	}
	return res, nil
}

// retrieveVariant queries both modalities in parallel. Failures are logged and
// reported by modality name; they never abort the other modality.
func (s *Service) retrieveVariant(ctx context.Context, v query.Variant) (dense, sparse []retrieval.Hit, failed []string) {
	var (
		g                   errgroup.Group
		denseErr, sparseErr error
	)
	if s.dense != nil {
		g.Go(func() error {
			dense, denseErr = s.call(ctx, "dense", s.dense, v.Text(), s.tuning.TopKDense, s.tuning.DenseTimeout)
			return nil
		})
	}
	if s.sparse != nil {
		g.Go(func() error {
			sparse, sparseErr = s.call(ctx, "sparse", s.sparse, v.Text(), s.tuning.TopKSparse, s.tuning.SparseTimeout)
			return nil
		})
	}
	_ = g.Wait()

	log := logger.FromContext(ctx, s.logger)
	if denseErr != nil && ctx.Err() == nil {
		log.Warn("Dense retrieval failed, continuing without it",
			zap.Int("variant", v.ID), zap.Error(denseErr))
		failed = append(failed, string(retrieval.Dense))
		dense = nil
	}
	if sparseErr != nil && ctx.Err() == nil {
		log.Warn("Sparse retrieval failed, continuing without it",
			zap.Int("variant", v.ID), zap.Error(sparseErr))
		failed = append(failed, string(retrieval.Sparse))
		sparse = nil
	}
	return dense, sparse, failed
}

func (s *Service) call(
	ctx context.Context, op string, r Retriever, text string, topK int, timeout time.Duration,
) ([]retrieval.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	fn := func(ctx context.Context) ([]retrieval.Hit, error) {
		return r.Retrieve(ctx, text, topK)
	}
	if s.exec != nil {
		return resilience.Call(ctx, s.exec, op, timeout, fn)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
