// Package chi serves the ragdex HTTP API on a chi router.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
)

const maxBodyBytes = 1 << 20

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, req ask.Request) (answer.Response, error)
	AskStream(ctx context.Context, req ask.Request) (<-chan ask.Event, error)
}

// PredefinedTable is the editable canned answer table.
type PredefinedTable interface {
	List() []dompre.Answer
	Add(question, answer string, keywords []string, confidence float64) (dompre.Answer, error)
	SearchByKeyword(kw string) []dompre.Answer
	Stats() dompre.Stats
}

// CacheAdmin invalidates cache entries and reports tier counters.
type CacheAdmin interface {
	Invalidate(ctx context.Context, ns cache.Namespace, key string) error
	InvalidateNamespace(ctx context.Context, ns cache.Namespace) (int, error)
	Stats() cache.Stats
}

// HealthReporter aggregates component checks.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// Deps are the services behind the API. Predefined and Cache may be nil;
// their routes then answer 404.
type Deps struct {
	Ask        Asker
	Predefined PredefinedTable
	Cache      CacheAdmin
	Health     HealthReporter
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	deps          Deps
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	s := &Server{deps: deps, logger: logger}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrUnknownProvider, http.StatusBadRequest, CodeUnknownProvider),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout),
	}
	return s
}

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	APIKeys []string
	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter mounts the API with its middleware stack.
func NewRouter(s *Server, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(s.logger))
	r.Use(BearerAuthMiddleware(opts.APIKeys))
	if opts.RateLimitRPS > 0 {
		r.Use(NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst).Middleware)
	}
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", s.Ask)
		r.Post("/ask/stream", s.AskStream)

		r.Get("/predefined", s.ListPredefined)
		r.Post("/predefined", s.AddPredefined)
		r.Get("/predefined/search", s.SearchPredefined)
		r.Get("/predefined/stats", s.PredefinedStats)

		r.Get("/cache/stats", s.CacheStats)
		r.Delete("/cache/{namespace}", s.InvalidateNamespace)
		r.Delete("/cache/{namespace}/{key}", s.InvalidateCache)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}

// Ask handles POST /v1/ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.deps.Ask.Ask(r.Context(), req.toDomain())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPredefined handles GET /v1/predefined.
func (s *Server) ListPredefined(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predefined == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "predefined answers are disabled")
		return
	}
	writeJSON(w, http.StatusOK, predefinedListToDTO(s.deps.Predefined.List()))
}

// AddPredefined handles POST /v1/predefined.
func (s *Server) AddPredefined(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predefined == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "predefined answers are disabled")
		return
	}
	var req predefinedAnswer
	if !s.decode(w, r, &req) {
		return
	}
	if req.Confidence == 0 {
		req.Confidence = 1
	}

	a, err := s.deps.Predefined.Add(req.Question, req.Answer, req.Keywords, req.Confidence)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	logger.FromContext(r.Context(), s.logger).Info("Predefined answer added", zap.String("question", a.Question()))
	writeJSON(w, http.StatusCreated, predefinedToDTO(a))
}

// SearchPredefined handles GET /v1/predefined/search?q=.
func (s *Server) SearchPredefined(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predefined == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "predefined answers are disabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query parameter q is required")
		return
	}
	writeJSON(w, http.StatusOK, predefinedListToDTO(s.deps.Predefined.SearchByKeyword(q)))
}

// PredefinedStats handles GET /v1/predefined/stats.
func (s *Server) PredefinedStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predefined == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "predefined answers are disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Predefined.Stats())
}

// CacheStats handles GET /v1/cache/stats.
func (s *Server) CacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "cache is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

// InvalidateCache handles DELETE /v1/cache/{namespace}/{key}.
func (s *Server) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "cache is disabled")
		return
	}
	ns, err := cache.ParseNamespace(chi.URLParam(r, "namespace"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.deps.Cache.Invalidate(r.Context(), ns, chi.URLParam(r, "key")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateNamespace handles DELETE /v1/cache/{namespace}.
// The body reports how many distributed keys were removed.
func (s *Server) InvalidateNamespace(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "cache is disabled")
		return
	}
	ns, err := cache.ParseNamespace(chi.URLParam(r, "namespace"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	n, err := s.deps.Cache.InvalidateNamespace(r.Context(), ns)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaceInvalidated{Namespace: string(ns), Deleted: n})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		msg := "invalid request body"
		if !errors.Is(err, io.EOF) {
			msg += ": " + err.Error()
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, msg)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeMessage keeps the wrapped detail for client errors and hides everything else.
func safeMessage(err error) string {
	for _, s := range []error{domain.ErrInvalidRequest, domain.ErrUnknownProvider, domain.ErrNotFound} {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	for _, s := range []error{domain.ErrRateLimited, context.DeadlineExceeded} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, safeMessage(err))
		return true
	}
}

// errorCode returns the code handleDomainError would write.
func errorCode(err error) ErrorCode {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return CodeBadRequest
	case errors.Is(err, domain.ErrUnknownProvider):
		return CodeUnknownProvider
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternalError
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), s.logger)
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Debug("request rejected", zap.Error(err))
			return
		}
	}
	if errors.Is(err, context.Canceled) {
		log.Debug("client went away", zap.Error(err))
		return
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
