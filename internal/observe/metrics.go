// Package observe provides application-wide observability primitives for
// voxd: OpenTelemetry metrics, tracing, structured logging helpers, and HTTP
// middleware for the status endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all voxd metrics.
const meterName = "github.com/MrWong99/voxd"

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DecodeDuration tracks wall time spent decoding one segment.
	DecodeDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of finalized segments.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// Segments counts finalized segments. Use with attributes:
	//   attribute.String("outcome", "completed"|"dropped"),
	//   attribute.Bool("forced", ...)
	Segments metric.Int64Counter

	// Transcriptions counts published transcriptions. Use with attribute:
	//   attribute.String("model", ...)
	Transcriptions metric.Int64Counter

	// DecodeErrors counts failed segment decodes.
	DecodeErrors metric.Int64Counter

	// ModelChanges counts model tier transitions. Use with attributes:
	//   attribute.String("model", ...), attribute.String("reason", ...)
	ModelChanges metric.Int64Counter

	// ResourceTransitions counts GPU memory band transitions. Use with
	// attribute: attribute.String("band", ...)
	ResourceTransitions metric.Int64Counter

	// --- Gauges ---

	// GPUMemoryUsedPercent reports the GPU memory utilisation observed at
	// the most recent band transition.
	GPUMemoryUsedPercent metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status-endpoint request processing time.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for decode latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets covers the valid segment length range, from the minimum
// speech span up to the hard length cap.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecodeDuration, err = m.Float64Histogram("voxd.decode.duration",
		metric.WithDescription("Wall time spent decoding one speech segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("voxd.segment.duration",
		metric.WithDescription("Audio length of finalized speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("voxd.segments",
		metric.WithDescription("Total finalized segments by outcome and forced flag."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("voxd.transcriptions",
		metric.WithDescription("Total published transcriptions by model tier."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxd.decode.errors",
		metric.WithDescription("Total failed segment decodes."),
	); err != nil {
		return nil, err
	}
	if met.ModelChanges, err = m.Int64Counter("voxd.model.changes",
		metric.WithDescription("Total model tier transitions by model and reason."),
	); err != nil {
		return nil, err
	}
	if met.ResourceTransitions, err = m.Int64Counter("voxd.resource.transitions",
		metric.WithDescription("Total GPU memory pressure band transitions by band."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.GPUMemoryUsedPercent, err = m.Float64Gauge("voxd.gpu.memory.used_percent",
		metric.WithDescription("GPU memory utilisation at the last band transition."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}
	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxd.http.request.duration",
		metric.WithDescription("Status-endpoint HTTP request latency by method and path."),
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

// RecordTranscription records one published transcription together with its
// decode latency.
func (m *Metrics) RecordTranscription(ctx context.Context, model string, decodeSeconds float64) {
	m.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
	m.DecodeDuration.Record(ctx, decodeSeconds)
}

// RecordSegment records one finalized segment with its outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string, forced bool, seconds float64) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Bool("forced", forced),
		),
	)
	m.SegmentDuration.Record(ctx, seconds)
}

// RecordModelChange records one model tier transition.
func (m *Metrics) RecordModelChange(ctx context.Context, model, reason string) {
	m.ModelChanges.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("reason", reason),
		),
	)
}
