// Package observe provides application-wide observability primitives for
// Umigoe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Umigoe metrics.
const meterName = "github.com/umigoe/umigoe"

// Analyzer call outcomes, used as the "outcome" attribute on
// [Metrics.AnalyzerCalls].
const (
	OutcomeOK       = "ok"       // model reply parsed and validated
	OutcomeFallback = "fallback" // keyword heuristic answered
	OutcomeFastPath = "fastpath" // emergency phrase short-circuited the model
)

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ASRSessionDuration tracks the lifetime of a transcription session,
	// from stream start to stop or disconnect.
	ASRSessionDuration metric.Float64Histogram

	// AnalyzerDuration tracks end-to-end analysis latency, including the
	// model call, parsing, and any fallback.
	AnalyzerDuration metric.Float64Histogram

	// LLMDuration tracks a single model backend call. Use with attribute:
	//   attribute.String("provider", ...)
	LLMDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// FramesIn counts inbound client frames. Use with attribute:
	//   attribute.String("action", ...)
	FramesIn metric.Int64Counter

	// FramesOut counts outbound frames. Use with attribute:
	//   attribute.String("type", ...)
	FramesOut metric.Int64Counter

	// SchemaErrors counts inbound frames rejected by schema validation.
	// Use with attribute: attribute.String("action", ...)
	SchemaErrors metric.Int64Counter

	// AnalyzerCalls counts analysis requests by outcome. Use with attribute:
	//   attribute.String("outcome", ...) — one of the Outcome* constants.
	AnalyzerCalls metric.Int64Counter

	// StoreWriteFailures counts persistence writes that were logged and
	// swallowed. Use with attribute: attribute.String("item_type", ...)
	StoreWriteFailures metric.Int64Counter

	// SendTimeouts counts outbound frames dropped because a client write
	// exceeded the send deadline.
	SendTimeouts metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of live operator connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveSessions tracks the number of open ASR streaming sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRSessionDuration, err = m.Float64Histogram("umigoe.asr.session.duration",
		metric.WithDescription("Lifetime of a transcription session from start to stop."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.AnalyzerDuration, err = m.Float64Histogram("umigoe.analyzer.duration",
		metric.WithDescription("End-to-end analysis latency including fallback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("umigoe.llm.duration",
		metric.WithDescription("Latency of a single model backend call by provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("umigoe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIn, err = m.Int64Counter("umigoe.frames.in",
		metric.WithDescription("Total inbound client frames by action."),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("umigoe.frames.out",
		metric.WithDescription("Total outbound frames by type."),
	); err != nil {
		return nil, err
	}
	if met.SchemaErrors, err = m.Int64Counter("umigoe.schema.errors",
		metric.WithDescription("Total inbound frames rejected by schema validation."),
	); err != nil {
		return nil, err
	}
	if met.AnalyzerCalls, err = m.Int64Counter("umigoe.analyzer.calls",
		metric.WithDescription("Total analysis requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StoreWriteFailures, err = m.Int64Counter("umigoe.store.write_failures",
		metric.WithDescription("Total persistence writes that failed and were swallowed."),
	); err != nil {
		return nil, err
	}
	if met.SendTimeouts, err = m.Int64Counter("umigoe.send.timeouts",
		metric.WithDescription("Total outbound frames dropped on a slow client."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("umigoe.active_connections",
		metric.WithDescription("Number of live operator connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("umigoe.active_asr_sessions",
		metric.WithDescription("Number of open ASR streaming sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameIn records an inbound frame counter increment.
func (m *Metrics) RecordFrameIn(ctx context.Context, action string) {
	m.FramesIn.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordFrameOut records an outbound frame counter increment.
func (m *Metrics) RecordFrameOut(ctx context.Context, frameType string) {
	m.FramesOut.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", frameType)),
	)
}

// RecordSchemaError records a schema validation rejection.
func (m *Metrics) RecordSchemaError(ctx context.Context, action string) {
	m.SchemaErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordAnalyzerCall records an analysis request with its outcome. Use the
// Outcome* constants.
func (m *Metrics) RecordAnalyzerCall(ctx context.Context, outcome string) {
	m.AnalyzerCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordStoreWriteFailure records a swallowed persistence failure.
func (m *Metrics) RecordStoreWriteFailure(ctx context.Context, itemType string) {
	m.StoreWriteFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("item_type", itemType)),
	)
}
