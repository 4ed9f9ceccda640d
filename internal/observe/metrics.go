// Package observe provides application-wide observability primitives for
// Echolex: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Echolex metrics.
const meterName = "github.com/echolex/echolex"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// CorrectionDuration tracks end-to-end transcript correction latency.
	CorrectionDuration metric.Float64Histogram

	// CorrectionRequests counts correction requests. Use with attribute:
	//   attribute.String("outcome", "applied"|"unchanged")
	CorrectionRequests metric.Int64Counter

	// EnrollmentAccepts counts accepted pronunciation samples.
	EnrollmentAccepts metric.Int64Counter

	// EnrollmentRejections counts rejected samples. Use with attribute:
	//   attribute.String("reason", ...)
	EnrollmentRejections metric.Int64Counter

	// ActiveRecordings tracks the number of open recording sessions.
	ActiveRecordings metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// sub-second correction budgets.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CorrectionDuration, err = m.Float64Histogram("echolex.correction.duration",
		metric.WithDescription("Latency of transcript correction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CorrectionRequests, err = m.Int64Counter("echolex.correction.requests",
		metric.WithDescription("Total correction requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.EnrollmentAccepts, err = m.Int64Counter("echolex.enrollment.accepts",
		metric.WithDescription("Total accepted pronunciation samples."),
	); err != nil {
		return nil, err
	}
	if met.EnrollmentRejections, err = m.Int64Counter("echolex.enrollment.rejections",
		metric.WithDescription("Total rejected pronunciation samples by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("echolex.active_recordings",
		metric.WithDescription("Number of open recording sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("echolex.http.request.duration",
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

// RecordCorrection records one correction request with its latency and
// outcome.
func (m *Metrics) RecordCorrection(ctx context.Context, applied bool, d time.Duration) {
	outcome := "unchanged"
	if applied {
		outcome = "applied"
	}
	m.CorrectionDuration.Record(ctx, d.Seconds())
	m.CorrectionRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordEnrollmentAccept records one accepted pronunciation sample.
func (m *Metrics) RecordEnrollmentAccept(ctx context.Context) {
	m.EnrollmentAccepts.Add(ctx, 1)
}

// RecordEnrollmentRejection records one rejected sample with its reason.
func (m *Metrics) RecordEnrollmentRejection(ctx context.Context, reason string) {
	m.EnrollmentRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
