// Package telemetry wires OpenTelemetry exporters and meters for the
// collection proxy.
//
// It centralises trace provider setup, applies service resource attributes,
// and offers helpers that record upstream fetch outcomes on spans and metrics
// so operators can correlate caller-facing errors with upstream behaviour.
package telemetry
