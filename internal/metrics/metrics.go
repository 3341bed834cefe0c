package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"model_group", "deployment_id", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airouter_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model_group", "deployment_id"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"model_group", "deployment_id", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_cost_usd_total",
			Help: "Total cost in USD",
		},
		[]string{"model_group", "deployment_id"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_routing_decisions_total",
			Help: "Deployment selections by the usage-based router",
		},
		[]string{"model_group", "deployment_id"},
	)

	RoutingExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_routing_exhausted_total",
			Help: "Selections that failed because every deployment was over limit",
		},
		[]string{"model_group"},
	)

	CounterStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_counter_store_errors_total",
			Help: "Usage counter store read/write failures",
		},
		[]string{"operation"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"model_group"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airouter_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"model_group"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airouter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"deployment_id"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airouter_active_streams",
			Help: "Number of active streaming responses",
		},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airouter_budget_usage_ratio",
			Help: "Current budget usage ratio (0-1) per virtual key",
		},
		[]string{"key_id"},
	)
)

func RecordRequest(modelGroup, deploymentID, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(modelGroup, deploymentID, status).Inc()
	RequestDuration.WithLabelValues(modelGroup, deploymentID).Observe(durationSec)
}

func RecordTokens(modelGroup, deploymentID string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(modelGroup, deploymentID, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(modelGroup, deploymentID, "output").Add(float64(outputTokens))
}

func RecordCost(modelGroup, deploymentID string, costUSD float64) {
	CostTotal.WithLabelValues(modelGroup, deploymentID).Add(costUSD)
}

func RecordRoutingDecision(modelGroup, deploymentID string) {
	RoutingDecisions.WithLabelValues(modelGroup, deploymentID).Inc()
}

func RecordRoutingExhausted(modelGroup string) {
	RoutingExhausted.WithLabelValues(modelGroup).Inc()
}

func RecordCounterStoreError(operation string) {
	CounterStoreErrors.WithLabelValues(operation).Inc()
}

func RecordCacheHit(modelGroup string) {
	CacheHits.WithLabelValues(modelGroup).Inc()
}

func RecordCacheMiss(modelGroup string) {
	CacheMisses.WithLabelValues(modelGroup).Inc()
}

func SetCircuitBreakerState(deploymentID string, state int) {
	CircuitBreakerState.WithLabelValues(deploymentID).Set(float64(state))
}

func SetBudgetUsage(keyID string, ratio float64) {
	BudgetUsageRatio.WithLabelValues(keyID).Set(ratio)
}
