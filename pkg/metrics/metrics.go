// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	EnvelopesTotal       *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	StoreQueriesTotal    *prometheus.CounterVec
	StoreLatency         *prometheus.HistogramVec
	SuggestionsCount     *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	PublishTotal         *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
	DeliveriesTotal      *prometheus.CounterVec
	HopLatency           *prometheus.HistogramVec
	EndToEndLatency      prometheus.Histogram
	CircuitBreakerState  *prometheus.GaugeVec
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// New creates all collectors and registers them on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: latencyBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		EnvelopesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_envelopes_total",
				Help: "Envelopes handled per stage by outcome (processed, degraded, malformed).",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Time spent processing one envelope in a stage.",
				Buckets: latencyBuckets,
			},
			[]string{"stage"},
		),
		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_queries_total",
				Help: "Backend store queries by store and result type (hit, zero_result, error).",
			},
			[]string{"store", "result_type"},
		),
		StoreLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_latency_seconds",
				Help:    "Backend store query latency in seconds.",
				Buckets: latencyBuckets,
			},
			[]string{"store"},
		),
		SuggestionsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_suggestions_count",
				Help:    "Number of suggestions carried by an envelope leaving a stage.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
			[]string{"stage"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of candidate cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of candidate cache misses.",
			},
		),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_publish_total",
				Help: "Resolved publish receipts by topic and status.",
			},
			[]string{"topic", "status"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_active_sessions",
				Help: "Number of connected client sessions.",
			},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_deliveries_total",
				Help: "Terminal envelopes by delivery outcome (delivered, session_gone, dropped_slow_client, failed, rate_limited).",
			},
			[]string{"outcome"},
		),
		HopLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_hop_latency_seconds",
				Help:    "Latency between consecutive envelope timestamps.",
				Buckets: latencyBuckets,
			},
			[]string{"hop"},
		),
		EndToEndLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_end_to_end_latency_seconds",
				Help:    "Last minus first envelope timestamp.",
				Buckets: latencyBuckets,
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.EnvelopesTotal,
		m.StageDuration,
		m.StoreQueriesTotal,
		m.StoreLatency,
		m.SuggestionsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.PublishTotal,
		m.ActiveSessions,
		m.DeliveriesTotal,
		m.HopLatency,
		m.EndToEndLatency,
		m.CircuitBreakerState,
	)

	return m
}

// NewNop returns collectors registered on a private registry, for callers
// that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
