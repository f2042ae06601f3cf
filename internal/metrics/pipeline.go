package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline, cache and collaborator metrics.
var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragdex",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each ask pipeline stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "pipeline_outcomes_total",
			Help:      "Ask pipeline outcomes by response source",
		},
		[]string{"source"}, // predefined / generated / no_results / degraded
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by namespace, tier and result",
		},
		[]string{"namespace", "tier", "result"},
	)

	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "cache_errors_total",
			Help:      "Distributed cache tier errors by operation",
		},
		[]string{"tier", "op"},
	)

	DegradationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "degradations_total",
			Help:      "Component fallbacks taken instead of failing the request",
		},
		[]string{"component"},
	)

	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragdex",
			Name:      "external_call_duration_seconds",
			Help:      "Duration of calls to external collaborators",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collaborator"},
	)

	ExternalCallErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "external_call_errors_total",
			Help:      "Failed calls to external collaborators",
		},
		[]string{"collaborator", "error_type"},
	)

	PredefinedMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "predefined_matches_total",
			Help:      "Predefined answer lookups by result",
		},
		[]string{"result"}, // "match" / "miss"
	)

	LLMCallsSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "llm_calls_saved_total",
			Help:      "Requests answered without calling a generator",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline, cache and collaborator metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		StageDuration,
		OutcomesTotal,
		CacheLookupsTotal,
		CacheErrorsTotal,
		DegradationsTotal,
		ExternalCallDuration,
		ExternalCallErrorsTotal,
		PredefinedMatchesTotal,
		LLMCallsSavedTotal,
	)
	pipelineMetricsRegistered = true
}
