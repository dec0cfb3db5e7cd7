// Package observe provides application-wide observability primitives for the
// proctor monitor: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all proctor metrics.
const meterName = "github.com/MrWong99/proctor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline counters ---

	// Ticks counts extraction ticks across all sessions.
	Ticks metric.Int64Counter

	// Detections counts emitted anomaly events. Use with attribute:
	//   attribute.String("type", ...)
	Detections metric.Int64Counter

	// Suppressed counts matches dropped by the cooldown. Use with attribute:
	//   attribute.String("type", ...)
	Suppressed metric.Int64Counter

	// Flags counts reported flags. Use with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	Flags metric.Int64Counter

	// --- Backend ---

	// BackendRequests counts backend calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendDuration tracks backend call latency. Use with attribute:
	//   attribute.String("op", ...)
	BackendDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions in the monitoring state.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for backend
// round trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Ticks, err = m.Int64Counter("proctor.ticks",
		metric.WithDescription("Total feature extraction ticks."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("proctor.detections",
		metric.WithDescription("Total emitted audio anomaly events by type."),
	); err != nil {
		return nil, err
	}
	if met.Suppressed, err = m.Int64Counter("proctor.suppressed",
		metric.WithDescription("Total detections dropped by the cooldown by type."),
	); err != nil {
		return nil, err
	}
	if met.Flags, err = m.Int64Counter("proctor.flags",
		metric.WithDescription("Total reported flags by type and persistence status."),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("proctor.backend.requests",
		metric.WithDescription("Total backend calls by operation and status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.BackendDuration, err = m.Float64Histogram("proctor.backend.duration",
		metric.WithDescription("Latency of backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("proctor.active_sessions",
		metric.WithDescription("Number of sessions currently monitoring audio."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("proctor.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordTick records one extraction tick.
func (m *Metrics) RecordTick(ctx context.Context) {
	m.Ticks.Add(ctx, 1)
}

// RecordDetection records an emitted event of the given type.
func (m *Metrics) RecordDetection(ctx context.Context, typ string) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordSuppressed records a match dropped by the cooldown.
func (m *Metrics) RecordSuppressed(ctx context.Context, typ string) {
	m.Suppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordFlag records a reported flag with its persistence status
// ("persisted" or "local").
func (m *Metrics) RecordFlag(ctx context.Context, typ, status string) {
	m.Flags.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", typ),
			attribute.String("status", status),
		),
	)
}

// RecordBackendRequest records one backend call with its latency.
func (m *Metrics) RecordBackendRequest(ctx context.Context, op, status string, seconds float64) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
	m.BackendDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
