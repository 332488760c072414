// Package observe provides application-wide observability primitives for
// vocalflow: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all vocalflow metrics.
const meterName = "github.com/MrWong99/vocalflow"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// FrameDuration tracks the time spent classifying one frame. Use with
	// attribute.String("detector", ...).
	FrameDuration metric.Float64Histogram

	// Frames counts processed frames per detector.
	Frames metric.Int64Counter

	// Transitions counts confirmed phase transitions. Use with attributes:
	//   attribute.String("detector", ...), attribute.String("from", ...), attribute.String("to", ...)
	Transitions metric.Int64Counter

	// Calibrations counts completed calibration windows per detector.
	Calibrations metric.Int64Counter

	// SourceErrors counts audio source failures. Use with attributes:
	//   attribute.String("detector", ...), attribute.String("kind", ...)
	SourceErrors metric.Int64Counter

	// FeedDropped counts feed messages dropped for slow clients.
	FeedDropped metric.Int64Counter

	// ConfigReloads counts configuration reloads by status.
	ConfigReloads metric.Int64Counter

	// ActiveDetectors tracks the number of running detector pipelines.
	ActiveDetectors metric.Int64UpDownCounter

	// FeedClients tracks the number of connected feed clients.
	FeedClients metric.Int64UpDownCounter

	// Rate, Coherence and Stability report the latest regularity reading of
	// each detector. They are observed through [Metrics.ObserveDetectors].
	Rate      metric.Float64ObservableGauge
	Coherence metric.Float64ObservableGauge
	Stability metric.Float64ObservableGauge

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// matched route and status. For the feed websocket it is the connection
	// lifetime.
	HTTPRequestDuration metric.Float64Histogram
}

// frameBuckets defines histogram bucket boundaries (in seconds) for the
// per-frame processing cost.
var frameBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.FrameDuration, err = m.Float64Histogram("vocalflow.frame.duration",
		metric.WithDescription("Time spent classifying a single audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Frames, err = m.Int64Counter("vocalflow.frames",
		metric.WithDescription("Total frames processed by detector."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("vocalflow.transitions",
		metric.WithDescription("Total confirmed phase transitions by detector, source phase, and target phase."),
	); err != nil {
		return nil, err
	}
	if met.Calibrations, err = m.Int64Counter("vocalflow.calibrations",
		metric.WithDescription("Total completed calibration windows by detector."),
	); err != nil {
		return nil, err
	}
	if met.SourceErrors, err = m.Int64Counter("vocalflow.source.errors",
		metric.WithDescription("Total audio source errors by detector and source kind."),
	); err != nil {
		return nil, err
	}
	if met.FeedDropped, err = m.Int64Counter("vocalflow.feed.dropped",
		metric.WithDescription("Feed messages dropped because a client fell behind."),
	); err != nil {
		return nil, err
	}
	if met.ConfigReloads, err = m.Int64Counter("vocalflow.config.reloads",
		metric.WithDescription("Configuration reloads by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveDetectors, err = m.Int64UpDownCounter("vocalflow.active_detectors",
		metric.WithDescription("Number of running detector pipelines."),
	); err != nil {
		return nil, err
	}
	if met.FeedClients, err = m.Int64UpDownCounter("vocalflow.feed.clients",
		metric.WithDescription("Number of connected feed clients."),
	); err != nil {
		return nil, err
	}

	if met.Rate, err = m.Float64ObservableGauge("vocalflow.regularity.rate",
		metric.WithDescription("Cycle rate in events per minute."),
		metric.WithUnit("{event}/min"),
	); err != nil {
		return nil, err
	}
	if met.Coherence, err = m.Float64ObservableGauge("vocalflow.regularity.coherence",
		metric.WithDescription("Cycle regularity score in [0, 100]."),
	); err != nil {
		return nil, err
	}
	if met.Stability, err = m.Float64ObservableGauge("vocalflow.regularity.stability",
		metric.WithDescription("Level steadiness score in [0, 100]."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalflow.http.request.duration",
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

// DetectorReading is one detector's regularity values at collection time.
type DetectorReading struct {
	Detector  string
	Rate      float64
	Coherence float64
	Stability float64
}

// ObserveDetectors registers fn to be called on every metric collection to
// report the regularity gauges. Unregister the returned registration when
// the readings are no longer available.
func (m *Metrics) ObserveDetectors(fn func() []DetectorReading) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, r := range fn() {
			attrs := metric.WithAttributes(attribute.String("detector", r.Detector))
			o.ObserveFloat64(m.Rate, r.Rate, attrs)
			o.ObserveFloat64(m.Coherence, r.Coherence, attrs)
			o.ObserveFloat64(m.Stability, r.Stability, attrs)
		}
		return nil
	}, m.Rate, m.Coherence, m.Stability)
}

// RecordFrame records one processed frame and its processing time.
func (m *Metrics) RecordFrame(ctx context.Context, detector string, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("detector", detector))
	m.Frames.Add(ctx, 1, attrs)
	m.FrameDuration.Record(ctx, took.Seconds(), attrs)
}

// RecordTransition records a confirmed phase transition.
func (m *Metrics) RecordTransition(ctx context.Context, detector, from, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("detector", detector),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordCalibration records a completed calibration window.
func (m *Metrics) RecordCalibration(ctx context.Context, detector string) {
	m.Calibrations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("detector", detector)),
	)
}

// RecordSourceError records an audio source failure.
func (m *Metrics) RecordSourceError(ctx context.Context, detector, kind string) {
	m.SourceErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("detector", detector),
			attribute.String("kind", kind),
		),
	)
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(ctx context.Context, status string) {
	m.ConfigReloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
