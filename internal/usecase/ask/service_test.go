package ask

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/usecase/enhance"
	"github.com/kailas-cloud/ragdex/internal/usecase/search"
)

func TestAsk_PredefinedShortCircuits(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp, err := h.svc.Ask(context.Background(), Request{Question: "Quel est l'âge de retraite ?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Source != answer.SourcePredefined {
		t.Fatalf("source = %s, want predefined", resp.Source)
	}
	if !resp.PerformanceMetrics.LLMCallsSaved {
		t.Error("expected llm_calls_saved")
	}
	if resp.ConfidenceScore != 0.95 {
		t.Errorf("confidence = %v, want entry confidence 0.95", resp.ConfidenceScore)
	}
	if resp.PerformanceMetrics.MatchedQuestion != "Quel est l'âge de retraite ?" {
		t.Errorf("matched question = %q", resp.PerformanceMetrics.MatchedQuestion)
	}
	if n := h.dense.calls.Load() + h.sparse.calls.Load() + h.ce.calls.Load() + h.gen.calls.Load(); n != 0 {
		t.Fatalf("expected no retrieval, rerank or generation calls, got %d", n)
	}
	if resp.PerformanceMetrics.FinalState != string(StateDone) || resp.ID == "" {
		t.Errorf("unexpected response envelope: %+v", resp)
	}
}

func TestAsk_ConcurrentIdenticalQueriesShareOneRun(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	release := make(chan struct{})
	h.gen.fn = func(ctx context.Context, _ string) (domain.Generation, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.Generation{}, ctx.Err()
		}
		return domain.Generation{Text: "Réponse partagée"}, nil
	}

	const callers = 8
	var (
		wg    sync.WaitGroup
		resps = make([]answer.Response, callers)
		errs  = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resps[i], errs[i] = h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if d, s := h.dense.calls.Load(), h.sparse.calls.Load(); d != 1 || s != 1 {
		t.Fatalf("expected one dense and one sparse call, got %d and %d", d, s)
	}
	if g := h.gen.calls.Load(); g != 1 {
		t.Fatalf("expected one generation, got %d", g)
	}
	for i := 1; i < callers; i++ {
		if !reflect.DeepEqual(resps[i].Sources, resps[0].Sources) || resps[i].Answer != resps[0].Answer {
			t.Fatalf("caller %d got a different result", i)
		}
	}
}

func TestAsk_FusionOrder(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(resp.Sources); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("order = %v, want [A B C]", got)
	}
	want := map[string]float64{"A": 0.7, "B": 0.33, "C": 0}
	for _, ref := range resp.Sources {
		if d := ref.FusedScore - want[ref.DocumentID]; d > 1e-9 || d < -1e-9 {
			t.Errorf("%s fused = %v, want %v", ref.DocumentID, ref.FusedScore, want[ref.DocumentID])
		}
		if ref.RerankScore == nil || *ref.RerankScore != 0.5 {
			t.Errorf("%s rerank score = %v", ref.DocumentID, ref.RerankScore)
		}
	}
	if resp.Source != answer.SourceGenerated || resp.Answer != "Réponse générée" || !resp.ContextFound {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Provider != "openai" || resp.Model != "gpt-4o-mini" {
		t.Errorf("provider/model = %s/%s", resp.Provider, resp.Model)
	}
	if resp.SearchResults != 3 || resp.RankedResults != 3 {
		t.Errorf("search/ranked = %d/%d", resp.SearchResults, resp.RankedResults)
	}
}

func TestAsk_RerankTimeoutKeepsFusedOrder(t *testing.T) {
	h := newHarness(t, harnessOptions{rerankTimeout: 5 * time.Millisecond})
	h.ce.fn = func(ctx context.Context, _ []string) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	resp, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Source != answer.SourceGenerated {
		t.Fatalf("source = %s, want generated", resp.Source)
	}
	if got := ids(resp.Sources); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("order = %v, want fused order", got)
	}
	for _, ref := range resp.Sources {
		if ref.RerankScore != nil {
			t.Errorf("%s has a rerank score after fallback", ref.DocumentID)
		}
	}
	if !slices.Contains(resp.PerformanceMetrics.Degraded, "reranker") {
		t.Errorf("degraded = %v, want reranker noted", resp.PerformanceMetrics.Degraded)
	}
}

func TestAsk_DistributedTierDown(t *testing.T) {
	dist := &downStore{}
	h := newHarness(t, harnessOptions{dist: dist})

	resp, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.CacheHit {
		t.Error("first answer cannot be a cache hit")
	}
	if got := ids(resp.Sources); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("order = %v", got)
	}
	if dist.calls.Load() == 0 {
		t.Fatal("expected the distributed tier to be tried")
	}

	again, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !again.CacheHit || h.gen.calls.Load() != 1 {
		t.Errorf("expected memory tier to serve the repeat, cache_hit=%v generations=%d", again.CacheHit, h.gen.calls.Load())
	}
}

func TestAsk_FullResponseCacheHit(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	first, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.svc.Ask(context.Background(), Request{Question: "Comment calculer ma pension ?"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit || !second.PerformanceMetrics.LLMCallsSaved {
		t.Fatalf("expected cache hit with llm_calls_saved, got %+v", second.PerformanceMetrics)
	}
	if !second.PerformanceMetrics.CacheHits["full_response"] {
		t.Error("cache_hits.full_response not set")
	}
	if first.ID == second.ID {
		t.Error("each request must get its own id")
	}
	if !reflect.DeepEqual(first.Sources, second.Sources) || first.Answer != second.Answer {
		t.Error("cached response differs from the computed one")
	}
	if h.dense.calls.Load() != 1 || h.gen.calls.Load() != 1 {
		t.Errorf("expected a single pipeline run, got dense=%d gen=%d", h.dense.calls.Load(), h.gen.calls.Load())
	}
}

func TestAsk_CacheKeyIncludesParameters(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	if _, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion}); err != nil {
		t.Fatal(err)
	}
	resp, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion, TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CacheHit || len(resp.Sources) != 2 {
		t.Fatalf("top_k change must recompute, got cache_hit=%v sources=%d", resp.CacheHit, len(resp.Sources))
	}
	if _, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion, Provider: "anthropic"}); err != nil {
		t.Fatal(err)
	}
	if h.gen.calls.Load() != 3 {
		t.Errorf("expected 3 generations, got %d", h.gen.calls.Load())
	}
}

func TestAsk_NoResults(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.dense.hits, h.sparse.hits = nil, nil

	for range 2 {
		resp, err := h.svc.Ask(context.Background(), Request{Question: "question hors corpus"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Source != answer.SourceNoResults || resp.Answer != DefaultNoResultsMessage {
			t.Fatalf("unexpected response: %s %q", resp.Source, resp.Answer)
		}
		if resp.ConfidenceScore != 0 || resp.ContextFound || len(resp.Sources) != 0 {
			t.Errorf("no-results response carries data: %+v", resp)
		}
		if resp.PerformanceMetrics.FinalState != string(StateNoResults) {
			t.Errorf("final state = %s", resp.PerformanceMetrics.FinalState)
		}
		if resp.CacheHit {
			t.Error("no-results responses must not be cached")
		}
	}
	if h.dense.calls.Load() != 2 || h.gen.calls.Load() != 0 {
		t.Errorf("dense=%d gen=%d", h.dense.calls.Load(), h.gen.calls.Load())
	}
}

func TestAsk_GeneratorFailureDegrades(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.gen.fn = func(context.Context, string) (domain.Generation, error) {
		return domain.Generation{}, domain.ErrGeneratorUnavailable
	}

	resp, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Source != answer.SourceDegraded || resp.Answer != DefaultDegradedMessage {
		t.Fatalf("unexpected response: %s %q", resp.Source, resp.Answer)
	}
	if len(resp.Sources) != 3 {
		t.Errorf("sources must still be returned, got %d", len(resp.Sources))
	}
	if !slices.Contains(resp.PerformanceMetrics.Degraded, "generator") {
		t.Errorf("degraded = %v", resp.PerformanceMetrics.Degraded)
	}

	h.gen.fn = nil
	resp, err = h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CacheHit || resp.Source != answer.SourceGenerated {
		t.Fatalf("degraded response must not be cached, got %s cache_hit=%v", resp.Source, resp.CacheHit)
	}
}

func TestAsk_InvalidRequests(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	neg := -0.5
	zero := 0

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty question", Request{Question: "   "}, domain.ErrInvalidRequest},
		{"unknown provider", Request{Question: "q", Provider: "cohere"}, domain.ErrUnknownProvider},
		{"top_k too large", Request{Question: "q", TopK: 500}, domain.ErrInvalidRequest},
		{"negative temperature", Request{Question: "q", Temperature: &neg}, domain.ErrInvalidRequest},
		{"zero max tokens", Request{Question: "q", MaxTokens: &zero}, domain.ErrInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.Ask(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Errorf("Ask() error = %v, want %v", err, tc.want)
			}
			if _, err := h.svc.AskStream(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Errorf("AskStream() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAsk_RecordsStagesAndPrompt(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.gen.prompts = make(chan string, 1)

	resp, err := h.svc.Ask(context.Background(), Request{Question: pensionQuestion})
	if err != nil {
		t.Fatal(err)
	}
	for _, stage := range []string{
		"predefined_check", "full_response_cache_check", "enhance",
		"retrieve_fuse_dedup", "rerank", "context_build", "generate",
	} {
		if _, ok := resp.PerformanceMetrics.StageTimingsMs[stage]; !ok {
			t.Errorf("missing timing for %s: %v", stage, resp.PerformanceMetrics.StageTimingsMs)
		}
	}
	if resp.PerformanceMetrics.FinalState != string(StateDone) {
		t.Errorf("final state = %s", resp.PerformanceMetrics.FinalState)
	}

	prompt := <-h.gen.prompts
	if !strings.Contains(prompt, "QUESTION: "+pensionQuestion) || !strings.Contains(prompt, "Source 1: La pension se calcule") {
		t.Errorf("unexpected prompt:\n%s", prompt)
	}

	want := (resp.Sources[0].Score + resp.Sources[1].Score + resp.Sources[2].Score) / 3
	if d := resp.ConfidenceScore - want; d > 1e-9 || d < -1e-9 {
		t.Errorf("confidence = %v, want mean final score %v", resp.ConfidenceScore, want)
	}
}

func TestAsk_CallerCancellation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	h.dense.set(func(ctx context.Context, _ string) ([]retrieval.Hit, error) {
		cancel()
		return nil, ctx.Err()
	})

	if _, err := h.svc.Ask(ctx, Request{Question: pensionQuestion}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.gen.calls.Load() != 0 {
		t.Error("generation must not run after cancellation")
	}
}

type fakeEnhancer struct{}

func (fakeEnhancer) Enhance(_ context.Context, q query.Query) enhance.Result {
	return enhance.Result{Variants: query.BuildVariants(q, []string{"calcul du montant de la pension"}), Degraded: true}
}

func TestAsk_WithoutOptionalStages(t *testing.T) {
	dh, sh := pensionHits()
	dense, sparse := &mockRetriever{hits: dh}, &mockRetriever{hits: sh}
	gen := &mockGenerator{}
	svc := New(Deps{
		Enhancer:  fakeEnhancer{},
		Searcher:  search.New(dense, sparse, nil, search.DefaultTuning(), zap.NewNop()),
		Generator: gen,
	}, testConfig(), zap.NewNop())

	resp, err := svc.Ask(context.Background(), Request{Question: pensionQuestion, TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(resp.Sources); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("sources = %v", got)
	}
	if len(resp.EnhancedQueries) != 2 || resp.EnhancedQueries[0] != pensionQuestion {
		t.Errorf("enhanced queries = %v", resp.EnhancedQueries)
	}
	if !slices.Contains(resp.PerformanceMetrics.Degraded, "enhancer") {
		t.Errorf("degraded = %v", resp.PerformanceMetrics.Degraded)
	}
	if dense.calls.Load() != 2 {
		t.Errorf("expected one dense call per variant, got %d", dense.calls.Load())
	}
}

func TestAsk_Metrics(t *testing.T) {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_outcomes_total"}, []string{"source"})
	saved := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_llm_calls_saved_total"})
	matches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_predefined_total"}, []string{"result"})
	h := newHarness(t, harnessOptions{opts: []Option{WithMetrics(Metrics{
		Outcomes:          outcomes,
		LLMCallsSaved:     saved,
		PredefinedMatches: matches,
	})}})

	for _, q := range []string{"Quel est l'âge de retraite ?", pensionQuestion, pensionQuestion} {
		if _, err := h.svc.Ask(context.Background(), Request{Question: q}); err != nil {
			t.Fatal(err)
		}
	}

	if got := testutil.ToFloat64(outcomes.WithLabelValues("predefined")); got != 1 {
		t.Errorf("predefined outcomes = %v", got)
	}
	if got := testutil.ToFloat64(outcomes.WithLabelValues("generated")); got != 2 {
		t.Errorf("generated outcomes = %v", got)
	}
	if got := testutil.ToFloat64(saved); got != 2 {
		t.Errorf("llm calls saved = %v, want predefined + cache hit", got)
	}
	if got := testutil.ToFloat64(matches.WithLabelValues("miss")); got != 2 {
		t.Errorf("predefined misses = %v", got)
	}
}
