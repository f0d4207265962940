package proxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/collection-proxy/pkg/config"
)

// Metrics holds all Prometheus metrics for the proxy
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	// Collection metrics
	collectionResponses *prometheus.CounterVec

	// Configuration reload metrics
	configReloads *prometheus.CounterVec

	registry    *prometheus.Registry
	metricsPath string
}

// NewMetrics creates a new metrics instance backed by its own registry.
// metricsPath is the route the registry is served on (default when empty).
func NewMetrics(metricsPath string) *Metrics {
	registry := prometheus.NewRegistry()
	if metricsPath == "" {
		metricsPath = config.DefaultMetricsPath
	}

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collection_proxy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collection_proxy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "collection_proxy_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),

		collectionResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collection_proxy_collection_responses_total",
				Help: "Collection endpoint responses by outcome",
			},
			[]string{"outcome"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collection_proxy_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		registry:    registry,
		metricsPath: metricsPath,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpInFlight,
		m.collectionResponses,
		m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCollectionOutcome records how a collection request was answered
func (m *Metrics) RecordCollectionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.collectionResponses.WithLabelValues(outcome).Inc()
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	if m == nil {
		return
	}
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		wrapped := wrapRecorder(w)
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, m.endpointName(r.URL.Path), wrapped.Status(), time.Since(start))
	})
}

// endpointName maps a request path onto a bounded label value
func (m *Metrics) endpointName(path string) string {
	switch path {
	case config.CollectionRoute, config.CollectionRoute + "/":
		return "collection"
	case config.HealthRoute:
		return "health"
	case m.metricsPath:
		return "metrics"
	default:
		return "unknown"
	}
}
