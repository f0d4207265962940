package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Fetch outcomes recorded on upstream metrics and spans.
const (
	OutcomeSuccess          = "success"
	OutcomeConfigMissing    = "config_missing"
	OutcomeUpstreamRejected = "upstream_rejected"
	OutcomeTransportFailure = "transport_failure"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	fetchCounter          metric.Int64Counter
	fetchRejectedCounter  metric.Int64Counter
	fetchLatencyHistogram metric.Float64Histogram
)

// FetchMetrics captures the fields needed to record one upstream collection fetch.
type FetchMetrics struct {
	CollectionUID string
	Outcome       string
	StatusCode    int
	Duration      time.Duration
}

// RecordFetch emits counters and histograms that describe upstream fetch behaviour.
func RecordFetch(ctx context.Context, m FetchMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("collection.uid", m.CollectionUID),
		attribute.String("fetch.outcome", m.Outcome),
	}
	if m.StatusCode > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", m.StatusCode))
	}

	fetchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		fetchLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Outcome == OutcomeUpstreamRejected {
		fetchRejectedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(InstrumentationName)

		fetchCounter, metricsInitErr = meter.Int64Counter(
			"collection_proxy.upstream.requests_total",
			metric.WithDescription("Upstream collection fetches partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		fetchRejectedCounter, metricsInitErr = meter.Int64Counter(
			"collection_proxy.upstream.rejected_total",
			metric.WithDescription("Upstream fetches answered with a non-2xx status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		fetchLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"collection_proxy.upstream.duration_ms",
			metric.WithDescription("Observed upstream fetch latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordFetchOutcome annotates span with the fetch result without leaking payloads.
func RecordFetchOutcome(span trace.Span, outcome string, statusCode int) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("fetch.outcome", outcome),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", statusCode))
	}

	span.SetAttributes(attrs...)
	span.AddEvent("collection.fetch", trace.WithAttributes(attrs...))
}
