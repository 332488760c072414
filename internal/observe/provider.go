package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "vocalflow".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// Registry receives the exported metrics. When nil a fresh registry is
	// created, so several providers can coexist in one process.
	Registry *prometheus.Registry

	// TraceExporter is an optional span exporter. When nil, detector run
	// spans are recorded (and their IDs logged) but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Provider owns the meter and tracer providers set up by [InitProvider].
type Provider struct {
	meter    *sdkmetric.MeterProvider
	tracer   *sdktrace.TracerProvider
	registry *prometheus.Registry
}

// InitProvider initialises the OTel SDK: a meter provider exporting to a
// Prometheus registry (served by [Provider.Handler]) and a tracer provider
// batching to cfg.TraceExporter. Both are registered as the global OTel
// providers. Call [Provider.Shutdown] before exiting.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "vocalflow"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	// Schemaless attributes so the SDK's own semconv version never
	// conflicts with ours.
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Provider{meter: mp, tracer: tp, registry: cfg.Registry}, nil
}

// Metrics creates the vocalflow instruments on this provider.
func (p *Provider) Metrics() (*Metrics, error) {
	return NewMetrics(p.meter)
}

// Handler serves this provider's registry in the Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracer.Shutdown(ctx), p.meter.Shutdown(ctx))
}

// MetricsHandler serves the default Prometheus registry. It is used when no
// [Provider] has been set up.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
