package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Provider call kinds.
const (
	KindEmbedding  = "embedding"
	KindGeneration = "generation"
)

// Calls to embedding and generation providers. Status is "success" or a
// short failure reason.
var (
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "provider_requests_total",
			Help:      "Provider requests by kind, provider, model and status",
		},
		[]string{"kind", "provider", "model", "status"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragdex",
			Name:      "provider_request_duration_seconds",
			Help:      "Successful provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind", "provider", "model"},
	)

	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdex",
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by provider requests",
		},
		[]string{"kind", "provider", "model", "type"}, // prompt / completion / total
	)
)

var registerProviders sync.Once

// RegisterProviderMetrics registers the provider collectors with the default registry.
func RegisterProviderMetrics() {
	registerProviders.Do(func() {
		prometheus.MustRegister(ProviderRequestsTotal, ProviderRequestDuration, ProviderTokensTotal)
	})
}

// AddTokens records token usage, skipping zero counts so providers that do
// not report usage leave no empty series.
func AddTokens(kind, provider, model, typ string, n int) {
	if n > 0 {
		ProviderTokensTotal.WithLabelValues(kind, provider, model, typ).Add(float64(n))
	}
}
