// Package observe provides application-wide observability primitives for
// Tartil: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter bridge installed by [InitProvider]. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Tartil metrics.
const meterName = "github.com/MrWong99/tartil"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks transcriber latency. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	TranscriptionDuration metric.Float64Histogram

	// AnalyzeDuration tracks the whole analyze phase (transcribe, align,
	// grade and score).
	AnalyzeDuration metric.Float64Histogram

	// --- Attempt outcomes ---

	// Attempts counts scored attempts. Use with attributes:
	//   attribute.String("tier", ...), attribute.Bool("degraded", ...)
	Attempts metric.Int64Counter

	// Accuracy records the accuracy of every non-degraded attempt.
	Accuracy metric.Int64Histogram

	// --- Errors ---

	// TranscriptionErrors counts failed transcriptions. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	TranscriptionErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// LibraryReloads counts verse library reloads. Use with attribute:
	//   attribute.String("status", ...)
	LibraryReloads metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks practice sessions that have not ended.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveCaptures tracks microphones currently recording.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// cloud and local transcription of short recitations.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 15,
}

// accuracyBuckets follow the tier boundaries.
var accuracyBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("tartil.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalyzeDuration, err = m.Float64Histogram("tartil.analyze.duration",
		metric.WithDescription("Latency of the full attempt analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Accuracy, err = m.Int64Histogram("tartil.attempt.accuracy",
		metric.WithDescription("Accuracy of scored, non-degraded attempts."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(accuracyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Attempts, err = m.Int64Counter("tartil.attempts",
		metric.WithDescription("Total scored attempts by tier and degraded flag."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("tartil.transcription.errors",
		metric.WithDescription("Total failed transcriptions by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("tartil.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.LibraryReloads, err = m.Int64Counter("tartil.library.reloads",
		metric.WithDescription("Total verse library reloads by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tartil.active_sessions",
		metric.WithDescription("Number of practice sessions that have not ended."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("tartil.active_captures",
		metric.WithDescription("Number of microphones currently recording."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tartil.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordTranscription records the latency of one transcription call. status
// is "ok" or "error".
func (m *Metrics) RecordTranscription(ctx context.Context, backend, status string, d time.Duration) {
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordTranscriptionError counts a failed transcription. kind is "timeout"
// or "failed".
func (m *Metrics) RecordTranscriptionError(ctx context.Context, backend, kind string) {
	m.TranscriptionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}

// RecordAttempt counts a scored attempt. Accuracy is only observed for
// non-degraded attempts.
func (m *Metrics) RecordAttempt(ctx context.Context, tier string, degraded bool, accuracy int) {
	m.Attempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.Bool("degraded", degraded),
		),
	)
	if !degraded {
		m.Accuracy.Record(ctx, int64(accuracy))
	}
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// RecordLibraryReload counts a verse library reload attempt.
func (m *Metrics) RecordLibraryReload(ctx context.Context, ok bool) {
	m.LibraryReloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", statusString(ok))),
	)
}

func statusString(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
