// Package observe provides application-wide observability primitives for
// SAGE: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. Tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all SAGE metrics.
const meterName = "github.com/sage-learning/sage"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end turn processing latency.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// ExtractionDuration tracks semantic intent extraction latency.
	ExtractionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks inbound HTTP request latency. Use with
	// attribute.String("route", ...), attribute.Int("status", ...).
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsProcessed counts completed turns. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("modality", ...)
	TurnsProcessed metric.Int64Counter

	// ExtractionFailures counts extractions that degraded to zero confidence.
	ExtractionFailures metric.Int64Counter

	// MalformedResponses counts model outputs that failed structured parsing
	// (after the single strict-JSON retry).
	MalformedResponses metric.Int64Counter

	// DroppedStateChanges counts state changes dropped during consistency
	// validation. Use with attribute.String("kind", ...).
	DroppedStateChanges metric.Int64Counter

	// GraphWriteErrors counts failed learning-graph change applications.
	GraphWriteErrors metric.Int64Counter

	// ProviderErrors counts LLM/embeddings provider errors. Use with
	// attribute.String("provider", ...).
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live tutoring sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// the sub-second heuristics path up to slow multi-call turns.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("sage.turn.duration",
		metric.WithDescription("End-to-end latency of one conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("sage.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("sage.extraction.duration",
		metric.WithDescription("Latency of semantic intent extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sage.http.request.duration",
		metric.WithDescription("Latency of inbound HTTP requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsProcessed, err = m.Int64Counter("sage.turns.processed",
		metric.WithDescription("Number of completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.ExtractionFailures, err = m.Int64Counter("sage.extraction.failures",
		metric.WithDescription("Extractions that degraded to zero confidence."),
	); err != nil {
		return nil, err
	}
	if met.MalformedResponses, err = m.Int64Counter("sage.responses.malformed",
		metric.WithDescription("Model outputs that failed structured parsing after retry."),
	); err != nil {
		return nil, err
	}
	if met.DroppedStateChanges, err = m.Int64Counter("sage.state_changes.dropped",
		metric.WithDescription("State changes dropped during consistency validation."),
	); err != nil {
		return nil, err
	}
	if met.GraphWriteErrors, err = m.Int64Counter("sage.graph.write_errors",
		metric.WithDescription("Failed learning-graph change applications."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sage.provider.errors",
		metric.WithDescription("LLM and embeddings provider errors."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("sage.sessions.active",
		metric.WithDescription("Number of live tutoring sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}
