package ask

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/usecase/enhance"
	"github.com/kailas-cloud/ragdex/internal/usecase/predefined"
	"github.com/kailas-cloud/ragdex/internal/usecase/rerank"
	"github.com/kailas-cloud/ragdex/internal/usecase/search"
)

// --- Mocks ---

type mockRetriever struct {
	calls atomic.Int32
	mu    sync.Mutex
	hits  []retrieval.Hit
	fn    func(ctx context.Context, text string) ([]retrieval.Hit, error)
}

func (m *mockRetriever) Retrieve(ctx context.Context, text string, _ int) ([]retrieval.Hit, error) {
	m.calls.Add(1)
	m.mu.Lock()
	fn, hits := m.fn, m.hits
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	return hits, nil
}

func (m *mockRetriever) set(fn func(ctx context.Context, text string) ([]retrieval.Hit, error)) {
	m.mu.Lock()
	m.fn = fn
	m.mu.Unlock()
}

type mockCrossEncoder struct {
	calls atomic.Int32
	fn    func(ctx context.Context, texts []string) ([]float64, error)
}

func (m *mockCrossEncoder) Score(ctx context.Context, _ string, texts []string) ([]float64, error) {
	m.calls.Add(1)
	if m.fn != nil {
		return m.fn(ctx, texts)
	}
	out := make([]float64, len(texts))
	for i := range out {
		out[i] = 0.5
	}
	return out, nil
}

type mockGenerator struct {
	calls    atomic.Int32
	prompts  chan string
	fn       func(ctx context.Context, prompt string) (domain.Generation, error)
	streamFn func(ctx context.Context, prompt string) (<-chan domain.Chunk, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generation, error) {
	m.calls.Add(1)
	if m.prompts != nil {
		select {
		case m.prompts <- prompt:
		default:
		}
	}
	if m.fn != nil {
		return m.fn(ctx, prompt)
	}
	return domain.Generation{Text: "Réponse générée", Provider: opts.Provider, Model: opts.Model}, nil
}

func (m *mockGenerator) Stream(ctx context.Context, prompt string, _ domain.GenerateOptions) (<-chan domain.Chunk, error) {
	m.calls.Add(1)
	if m.streamFn != nil {
		return m.streamFn(ctx, prompt)
	}
	ch := make(chan domain.Chunk, 3)
	ch <- domain.Chunk{Text: "Réponse "}
	ch <- domain.Chunk{Text: "générée"}
	ch <- domain.Chunk{Done: true}
	close(ch)
	return ch, nil
}

// downStore is a distributed tier that fails every call.
type downStore struct {
	calls atomic.Int32
}

var errDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (d *downStore) Get(context.Context, string) ([]byte, error) {
	d.calls.Add(1)
	return nil, errDown
}

func (d *downStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	d.calls.Add(1)
	return errDown
}

func (d *downStore) Del(context.Context, string) error {
	d.calls.Add(1)
	return errDown
}

func (d *downStore) DelPrefix(context.Context, string) (int, error) {
	d.calls.Add(1)
	return 0, errDown
}

func (d *downStore) TryLock(context.Context, string, string, time.Duration) error {
	d.calls.Add(1)
	return errDown
}

func (d *downStore) Unlock(context.Context, string, string) error {
	d.calls.Add(1)
	return errDown
}

// --- Harness ---

type harness struct {
	dense  *mockRetriever
	sparse *mockRetriever
	ce     *mockCrossEncoder
	gen    *mockGenerator
	cache  *cache.Cache
	svc    *Service
}

type harnessOptions struct {
	dist          *downStore
	rerankTimeout time.Duration
	opts          []Option
}

const pensionQuestion = "comment calculer ma pension"

func pensionHits() (dense, sparse []retrieval.Hit) {
	return []retrieval.Hit{
			{ID: "A", Content: "La pension se calcule sur le salaire moyen.", Score: 0.9},
			{ID: "B", Content: "Le taux plein est atteint après 40 annuités.", Score: 0.5},
		}, []retrieval.Hit{
			{ID: "B", Content: "Le taux plein est atteint après 40 annuités.", Score: 0.8},
			{ID: "C", Content: "Les majorations pour enfants s'ajoutent.", Score: 0.6},
		}
}

func newHarness(t *testing.T, ho harnessOptions) *harness {
	t.Helper()

	mem, err := cache.NewLRU(256)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	var c *cache.Cache
	if ho.dist != nil {
		c = cache.New(cache.Config{}, mem, ho.dist, zap.NewNop())
	} else {
		c = cache.New(cache.Config{}, mem, nil, zap.NewNop())
	}

	dh, sh := pensionHits()
	h := &harness{
		dense:  &mockRetriever{hits: dh},
		sparse: &mockRetriever{hits: sh},
		ce:     &mockCrossEncoder{},
		gen:    &mockGenerator{},
		cache:  c,
	}

	ans, err := dompre.New("Quel est l'âge de retraite ?",
		"L'âge légal de départ à la retraite est de 60 ans.", []string{"âge", "retraite"}, 0.95)
	if err != nil {
		t.Fatalf("dompre.New: %v", err)
	}
	pre := predefined.NewService(predefined.NewMatcher([]dompre.Answer{ans}, 0.7), c, zap.NewNop())

	tuning := search.DefaultTuning()
	rcfg := rerank.DefaultConfig()
	if ho.rerankTimeout > 0 {
		rcfg.Timeout = ho.rerankTimeout
	}

	h.svc = New(Deps{
		Predefined: pre,
		Enhancer:   enhance.New(h.gen, c, nil, enhance.Config{MaxVariants: 0}, zap.NewNop()),
		Searcher:   search.New(h.dense, h.sparse, nil, tuning, zap.NewNop()),
		Reranker:   rerank.New(h.ce, c, nil, rcfg, zap.NewNop()),
		Generator:  h.gen,
		Cache:      c,
		Context:    NewContextBuilder(nil, 2000),
	}, testConfig(), zap.NewNop(), ho.opts...)
	return h
}

func testConfig() Config {
	cfg := DefaultConfig("openai", "gpt-4o-mini")
	cfg.Models["anthropic"] = "claude-3-haiku-20240307"
	cfg.GeneratorTimeout = time.Second
	return cfg
}

func ids(refs []answer.SourceRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.DocumentID
	}
	return out
}
