package chi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/ragdex/internal/logger"
)

func TestRateLimiter_PerClient(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	h := l.Middleware(okHandler())

	call := func(key, path string) int {
		req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
		req.Header.Set("Authorization", "Bearer "+key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := range 2 {
		if code := call("alice", "/v1/ask"); code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d", i, code)
		}
	}
	if code := call("alice", "/v1/ask"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over burst, got %d", code)
	}
	if code := call("bob", "/v1/ask"); code != http.StatusOK {
		t.Errorf("other clients keep their own bucket, got %d", code)
	}
	if code := call("alice", "/health"); code != http.StatusOK {
		t.Errorf("health is exempt, got %d", code)
	}

	now = now.Add(time.Second)
	if code := call("alice", "/v1/ask"); code != http.StatusOK {
		t.Errorf("expected refill after 1s, got %d", code)
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.allow("ip:old")
	now = now.Add(limiterIdleTTL + time.Second)
	l.sweep(now)
	if _, ok := l.clients["ip:old"]; ok {
		t.Error("idle client must be swept")
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/ask", http.NoBody)
	req.RemoteAddr = "192.0.2.10:51234"
	if got := clientKey(req); got != "ip:192.0.2.10" {
		t.Errorf("clientKey = %q", got)
	}
	req.Header.Set("Authorization", "Bearer k1")
	if got := clientKey(req); got != "key:"+keyID("k1") {
		t.Errorf("clientKey = %q", got)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := JSONRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ask", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if body := decodeBody[ErrorResponse](t, rr); body.Code != CodeInternalError {
		t.Errorf("unexpected code %s", body.Code)
	}
}

func TestWideEvent_LogsOneLineWithRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	var inner bool
	h := chiMiddleware.RequestID(WideEvent(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("inside")
		inner = true
		w.WriteHeader(http.StatusTeapot)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/predefined", http.NoBody))

	if !inner || rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected handler call and request id header")
	}
	lines := logs.FilterMessage("http_request").All()
	if len(lines) != 1 {
		t.Fatalf("expected one canonical line, got %d", len(lines))
	}
	if got := lines[0].ContextMap()["status"]; got != int64(http.StatusTeapot) {
		t.Errorf("unexpected status field %v", got)
	}
	if logs.FilterMessage("inside").FilterFieldKey("request_id").Len() != 1 {
		t.Error("handler logger must carry request_id")
	}
}
