package chi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
)

func TestAsk_Success(t *testing.T) {
	var got ask.Request
	asker := &mockAsker{askFn: func(_ context.Context, req ask.Request) (answer.Response, error) {
		got = req
		return answer.Response{ID: "q-1", Answer: "Réponse", Source: answer.SourceGenerated, Sources: []answer.SourceRef{}}, nil
	}}
	h := newTestRouter(t, Deps{Ask: asker}, RouterOptions{})

	rr := do(t, h, http.MethodPost, "/v1/ask",
		`{"question":"Quel est le délai ?","provider":"mistral","temperature":0.1,"max_tokens":64,"top_k":3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	resp := decodeBody[answer.Response](t, rr)
	if resp.ID != "q-1" || resp.Source != answer.SourceGenerated {
		t.Errorf("unexpected response: %+v", resp)
	}
	if got.Question != "Quel est le délai ?" || got.Provider != "mistral" || got.TopK != 3 {
		t.Errorf("request not forwarded: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.1 || got.MaxTokens == nil || *got.MaxTokens != 64 {
		t.Errorf("overrides not forwarded: %+v", got)
	}
}

func TestAsk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"invalid", fmt.Errorf("question is required: %w", domain.ErrInvalidRequest), http.StatusBadRequest, CodeBadRequest},
		{"provider", fmt.Errorf("%q: %w", "cohere", domain.ErrUnknownProvider), http.StatusBadRequest, CodeUnknownProvider},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{"deadline", fmt.Errorf("ask: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, CodeTimeout},
		{"internal", errors.New("redis: connection refused at 10.0.0.3"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			asker := &mockAsker{askFn: func(context.Context, ask.Request) (answer.Response, error) {
				return answer.Response{}, tc.err
			}}
			h := newTestRouter(t, Deps{Ask: asker}, RouterOptions{})

			rr := do(t, h, http.MethodPost, "/v1/ask", `{"question":"x"}`)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody[ErrorResponse](t, rr)
			if body.Code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, body.Code)
			}
			if tc.code == CodeInternalError && body.Message != "internal error" {
				t.Errorf("internal details leaked: %q", body.Message)
			}
		})
	}
}

func TestAsk_MalformedBody(t *testing.T) {
	asker := &mockAsker{askFn: func(context.Context, ask.Request) (answer.Response, error) {
		t.Fatal("asker must not be called")
		return answer.Response{}, nil
	}}
	h := newTestRouter(t, Deps{Ask: asker}, RouterOptions{})

	for _, body := range []string{"", "{", `{"question": 3}`} {
		rr := do(t, h, http.MethodPost, "/v1/ask", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestPredefined_ListAddSearchStats(t *testing.T) {
	h := newTestRouter(t, Deps{Predefined: newMatcher(t)}, RouterOptions{})

	rr := do(t, h, http.MethodGet, "/v1/predefined", "")
	if list := decodeBody[predefinedList](t, rr); list.Total != 1 || list.Items[0].Keywords[0] != "pension" {
		t.Fatalf("unexpected list: %+v", list)
	}

	rr = do(t, h, http.MethodPost, "/v1/predefined",
		`{"question":"Où envoyer mon dossier ?","answer":"À votre caisse régionale.","keywords":["dossier"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if added := decodeBody[predefinedAnswer](t, rr); added.Confidence != 1 {
		t.Errorf("expected default confidence 1, got %g", added.Confidence)
	}

	rr = do(t, h, http.MethodGet, "/v1/predefined/search?q=dossier", "")
	if found := decodeBody[predefinedList](t, rr); found.Total != 1 || found.Items[0].Question != "Où envoyer mon dossier ?" {
		t.Errorf("unexpected search result: %+v", found)
	}

	rr = do(t, h, http.MethodGet, "/v1/predefined/stats", "")
	if st := decodeBody[map[string]float64](t, rr); st["total_questions"] != 2 || st["total_keywords"] != 3 {
		t.Errorf("unexpected stats: %v", st)
	}
}

func TestPredefined_Validation(t *testing.T) {
	h := newTestRouter(t, Deps{Predefined: newMatcher(t)}, RouterOptions{})

	if rr := do(t, h, http.MethodPost, "/v1/predefined", `{"question":"","answer":"x"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty question: expected 400, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/predefined/search", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing q: expected 400, got %d", rr.Code)
	}
}

func TestPredefined_Disabled(t *testing.T) {
	h := newTestRouter(t, Deps{}, RouterOptions{})

	for _, path := range []string{"/v1/predefined", "/v1/predefined/stats", "/v1/predefined/search?q=x"} {
		if rr := do(t, h, http.MethodGet, path, ""); rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestInvalidateCache(t *testing.T) {
	var gotNS cache.Namespace
	var gotKey string
	c := &mockCache{invalidateFn: func(_ context.Context, ns cache.Namespace, key string) error {
		gotNS, gotKey = ns, key
		return nil
	}}
	h := newTestRouter(t, Deps{Cache: c}, RouterOptions{})

	rr := do(t, h, http.MethodDelete, "/v1/cache/full-response/abc123", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if gotNS != cache.NamespaceFullResponse || gotKey != "abc123" {
		t.Errorf("unexpected invalidation %s/%s", gotNS, gotKey)
	}

	if rr := do(t, h, http.MethodDelete, "/v1/cache/answers/abc123", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown namespace: expected 400, got %d", rr.Code)
	}
}

func TestInvalidateCache_TierDown(t *testing.T) {
	c := &mockCache{invalidateFn: func(context.Context, cache.Namespace, string) error {
		return fmt.Errorf("del: %w", domain.ErrCacheUnavailable)
	}}
	h := newTestRouter(t, Deps{Cache: c}, RouterOptions{})

	if rr := do(t, h, http.MethodDelete, "/v1/cache/rerank/k", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestInvalidateNamespace(t *testing.T) {
	var gotNS cache.Namespace
	c := &mockCache{invalidateNsFn: func(_ context.Context, ns cache.Namespace) (int, error) {
		gotNS = ns
		return 7, nil
	}}
	h := newTestRouter(t, Deps{Cache: c}, RouterOptions{})

	rr := do(t, h, http.MethodDelete, "/v1/cache/dense-embeddings", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody[namespaceInvalidated](t, rr)
	if gotNS != cache.NamespaceDenseEmbeddings || body.Namespace != "dense-embeddings" || body.Deleted != 7 {
		t.Errorf("unexpected flush %s: %+v", gotNS, body)
	}

	if rr := do(t, h, http.MethodDelete, "/v1/cache/answers", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown namespace: expected 400, got %d", rr.Code)
	}
}

func TestInvalidateNamespace_TierDown(t *testing.T) {
	c := &mockCache{invalidateNsFn: func(context.Context, cache.Namespace) (int, error) {
		return 0, fmt.Errorf("scan: %w", domain.ErrCacheUnavailable)
	}}
	h := newTestRouter(t, Deps{Cache: c}, RouterOptions{})

	if rr := do(t, h, http.MethodDelete, "/v1/cache/rerank", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestInvalidateNamespace_CacheDisabled(t *testing.T) {
	h := newTestRouter(t, Deps{}, RouterOptions{})
	if rr := do(t, h, http.MethodDelete, "/v1/cache/rerank", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestCacheStats(t *testing.T) {
	c := &mockCache{stats: cache.Stats{MemoryHits: 4, DistributedMisses: 2}}
	h := newTestRouter(t, Deps{Cache: c}, RouterOptions{})

	st := decodeBody[cache.Stats](t, do(t, h, http.MethodGet, "/v1/cache/stats", ""))
	if st.MemoryHits != 4 || st.DistributedMisses != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		status healthuc.Status
		want   int
	}{
		{healthuc.Healthy, http.StatusOK},
		{healthuc.Degraded, http.StatusOK},
		{healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			report := healthuc.Report{Status: tc.status, Checks: map[string]healthuc.CheckResult{"redis": healthuc.CheckOK}}
			h := newTestRouter(t, Deps{Health: &mockHealth{report: report}}, RouterOptions{APIKeys: []string{"secret"}})

			rr := do(t, h, http.MethodGet, "/health", "")
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			body := decodeBody[healthResponse](t, rr)
			if body.Status != string(tc.status) || body.Checks["redis"] != "ok" {
				t.Errorf("unexpected body: %+v", body)
			}
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	h := newTestRouter(t, Deps{}, RouterOptions{})
	rr := do(t, h, http.MethodGet, "/v2/ask", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decodeBody[ErrorResponse](t, rr); body.Code != CodeNotFound {
		t.Errorf("unexpected code %s", body.Code)
	}
}
