// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "Total number of upstream model calls",
		},
		[]string{"operation", "outcome"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "Duration of upstream model calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"operation"},
	)

	LLMRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_retry_attempts_total",
			Help: "Retried attempts after a failed model call or extraction",
		},
		[]string{"operation"},
	)

	TaxonomyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxonomy_requests_total",
			Help: "Classification requests by routing mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	TaxonomyChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxonomy_chunks_total",
			Help: "Chunks processed in chunked classification",
		},
		[]string{"outcome"},
	)

	TaxonomyCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxonomy_cache_total",
			Help: "Classification result cache lookups",
		},
		[]string{"result"},
	)

	TaxonomySchemaViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taxonomy_schema_violations_total",
			Help: "Model payloads that did not match the taxonomy schema",
		},
	)

	ChatSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of open eligibility chat connections",
		},
	)

	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Eligibility chat turns relayed to the model",
		},
		[]string{"outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
)

// Outcome labels shared by the counters above.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
