package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	predefineduc "github.com/kailas-cloud/ragdex/internal/usecase/predefined"
)

type mockAsker struct {
	askFn    func(ctx context.Context, req ask.Request) (answer.Response, error)
	streamFn func(ctx context.Context, req ask.Request) (<-chan ask.Event, error)
}

func (m *mockAsker) Ask(ctx context.Context, req ask.Request) (answer.Response, error) {
	return m.askFn(ctx, req)
}

func (m *mockAsker) AskStream(ctx context.Context, req ask.Request) (<-chan ask.Event, error) {
	return m.streamFn(ctx, req)
}

type mockCache struct {
	invalidateFn   func(ctx context.Context, ns cache.Namespace, key string) error
	invalidateNsFn func(ctx context.Context, ns cache.Namespace) (int, error)
	stats          cache.Stats
}

func (m *mockCache) Invalidate(ctx context.Context, ns cache.Namespace, key string) error {
	return m.invalidateFn(ctx, ns, key)
}

func (m *mockCache) InvalidateNamespace(ctx context.Context, ns cache.Namespace) (int, error) {
	return m.invalidateNsFn(ctx, ns)
}

func (m *mockCache) Stats() cache.Stats { return m.stats }

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

func newMatcher(t *testing.T) *predefineduc.Matcher {
	t.Helper()
	a, err := dompre.New(
		"Comment calculer ma pension ?",
		"La pension est calculée sur les meilleures années.",
		[]string{"pension", "calcul"},
		0.9,
	)
	if err != nil {
		t.Fatalf("predefined answer: %v", err)
	}
	return predefineduc.NewMatcher([]dompre.Answer{a}, 0.8)
}

func newTestRouter(t *testing.T, deps Deps, opts RouterOptions) http.Handler {
	t.Helper()
	if deps.Health == nil {
		deps.Health = &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}}
	}
	return NewRouter(NewServer(deps, zap.NewNop()), opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return v
}
