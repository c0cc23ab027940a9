package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutcomeSuccess is the outcome label of a successful query. Failed queries
// are labelled with their failure kind.
const OutcomeSuccess = "success"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydesk_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querydesk_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 120},
		},
		[]string{"method", "route"},
	)

	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydesk_queries_total",
			Help: "Dispatched queries by target, mode and outcome.",
		},
		[]string{"target", "mode", "outcome"},
	)
	queryDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querydesk_query_duration_ms",
			Help:    "Backend execution latency of successful queries in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"target", "mode"},
	)
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydesk_connection_probes_total",
			Help: "Connection probes by target and result.",
		},
		[]string{"target", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		queriesTotal,
		queryDurationMs,
		probesTotal,
	)
}

// ObserveQuery records one dispatched query.
func ObserveQuery(target, mode, outcome string, elapsed time.Duration) {
	if mode == "" {
		mode = "none"
	}
	queriesTotal.WithLabelValues(target, mode, outcome).Inc()
	if outcome == OutcomeSuccess {
		queryDurationMs.WithLabelValues(target, mode).Observe(float64(elapsed.Milliseconds()))
	}
}

func ObserveProbe(target string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	probesTotal.WithLabelValues(target, result).Inc()
}
