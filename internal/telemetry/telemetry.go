package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
)

// Telemetry records client-side metrics. Implementations must be safe for
// concurrent use; the SSO poll goroutine records alongside the caller.
type Telemetry interface {
	RecordAPIRequest(method, route string, status int, duration time.Duration)
	RecordLogin(portal, method, outcome string)
	RecordSSOPoll(outcome string)
	RecordMigrationItem(kind, status string)
	Close() error
}

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	loginCounter    metric.Int64Counter
	pollCounter     metric.Int64Counter
	migrateCounter  metric.Int64Counter
}

// metricInterval is how often counters are pushed; Close flushes the rest.
const metricInterval = 15 * time.Second

// New installs OTLP/HTTP trace and metric pipelines, or returns a no-op
// recorder when telemetry is disabled.
func New(ctx context.Context, cfg config.TelemetryConfig) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	var reader sdkmetric.Reader

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp

		metricExp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.Endpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			_ = exp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(metricInterval))
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t, err := newInstruments(mp.Meter(cfg.ServiceName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.tracerProvider = tp
	t.meterProvider = mp
	return t, nil
}

func newInstruments(meter metric.Meter) (*telemetry, error) {
	requestCounter, err := meter.Int64Counter("portalctl.api.requests.total",
		metric.WithDescription("Backend API requests by route and status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram("portalctl.api.request.duration",
		metric.WithDescription("Backend API request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	loginCounter, err := meter.Int64Counter("portalctl.logins.total",
		metric.WithDescription("Login attempts by portal, method and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pollCounter, err := meter.Int64Counter("portalctl.sso.polls.total",
		metric.WithDescription("SSO session status polls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	migrateCounter, err := meter.Int64Counter("portalctl.migration.items.total",
		metric.WithDescription("Locally cached items processed by the backend migration"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		meter:           meter,
		requestCounter:  requestCounter,
		requestDuration: requestDuration,
		loginCounter:    loginCounter,
		pollCounter:     pollCounter,
		migrateCounter:  migrateCounter,
	}, nil
}

func (t *telemetry) RecordAPIRequest(method, route string, status int, duration time.Duration) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	}

	t.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordLogin(portal, method, outcome string) {
	t.loginCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("login.portal", portal),
		attribute.String("login.method", method),
		attribute.String("login.outcome", outcome),
	))
}

func (t *telemetry) RecordSSOPoll(outcome string) {
	t.pollCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("sso.poll.outcome", outcome),
	))
}

func (t *telemetry) RecordMigrationItem(kind, status string) {
	t.migrateCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("migration.kind", kind),
		attribute.String("migration.status", status),
	))
}

func (t *telemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("traces: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewNoop returns a Telemetry that records nothing.
func NewNoop() Telemetry { return &noopTelemetry{} }

type noopTelemetry struct{}

func (n *noopTelemetry) RecordAPIRequest(method, route string, status int, duration time.Duration) {}
func (n *noopTelemetry) RecordLogin(portal, method, outcome string)                                {}
func (n *noopTelemetry) RecordSSOPoll(outcome string)                                              {}
func (n *noopTelemetry) RecordMigrationItem(kind, status string)                                   {}
func (n *noopTelemetry) Close() error                                                              { return nil }
