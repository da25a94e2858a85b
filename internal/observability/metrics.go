package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central Prometheus metric set for the RLM pipeline.
//
// Tracked concerns:
//   - Run outcomes by entry point and terminal status
//   - Root-LM request latency and outcomes per backend
//   - Executor step and glimpse activity
//   - Glimpse cache effectiveness
//   - HTTP surface latency
type Metrics struct {
	// RunCounter counts finished runs.
	// Labels: kind (run|assemble), status (ok|degraded|error|stopped)
	RunCounter *prometheus.CounterVec

	// RunDuration measures end-to-end run latency in seconds.
	// Labels: kind
	RunDuration *prometheus.HistogramVec

	// RootLMRequestDuration measures root-LM call latency in seconds.
	// Labels: backend (mock|vllm), stage (plan|decision)
	RootLMRequestDuration *prometheus.HistogramVec

	// RootLMRequestCounter counts root-LM calls.
	// Labels: backend, stage, status (success|error|fallback)
	RootLMRequestCounter *prometheus.CounterVec

	// ExecutorStepCounter counts executed program steps.
	// Labels: action, status (ok|error)
	ExecutorStepCounter *prometheus.CounterVec

	// GlimpseCacheCounter counts cache lookups.
	// Labels: outcome (hit|miss|bypass)
	GlimpseCacheCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
// Call once at startup; passing nil uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlmd_runs_total",
				Help: "Total number of finished RLM runs by kind and status",
			},
			[]string{"kind", "status"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlmd_run_duration_seconds",
				Help:    "End-to-end run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),

		RootLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlmd_rootlm_request_duration_seconds",
				Help:    "Duration of root-LM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend", "stage"},
		),

		RootLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlmd_rootlm_requests_total",
				Help: "Total root-LM requests by backend, stage, and status",
			},
			[]string{"backend", "stage", "status"},
		),

		ExecutorStepCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlmd_executor_steps_total",
				Help: "Total executed program steps by action and status",
			},
			[]string{"action", "status"},
		),

		GlimpseCacheCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlmd_glimpse_cache_lookups_total",
				Help: "Glimpse cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlmd_http_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
