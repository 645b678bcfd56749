// Package observability provides OpenTelemetry-based tracing and
// metrics with pluggable exporters.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config configures the observability stack.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string // dev, staging, prod

	// TraceExporter is the pluggable span exporter (OTLP, stdout, ...).
	// Nil disables tracing.
	TraceExporter sdktrace.SpanExporter

	// MetricReader is the pluggable metric reader (Prometheus, OTLP, ...).
	// Nil disables metrics.
	MetricReader sdkmetric.Reader

	Logger *slog.Logger
}

// Telemetry bundles the configured providers and instruments.
// When no exporter or reader is configured the providers are no-ops,
// so instrumented code needs no nil checks.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Metrics        *Metrics
	Logger         *slog.Logger

	shutdownFuncs []func(context.Context) error
}

// Init initializes OpenTelemetry with graceful degradation.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tel := &Telemetry{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
		Logger:         cfg.Logger,
	}

	if cfg.TraceExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(cfg.TraceExporter),
			sdktrace.WithResource(res),
		)
		tel.TracerProvider = tp
		tel.shutdownFuncs = append(tel.shutdownFuncs, tp.Shutdown)
	}

	if cfg.MetricReader != nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(cfg.MetricReader),
			sdkmetric.WithResource(res),
		)
		tel.MeterProvider = mp
		tel.shutdownFuncs = append(tel.shutdownFuncs, mp.Shutdown)
	}

	tel.Metrics, err = NewMetrics(tel.MeterProvider.Meter("stillpoint/projection"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return tel, nil
}

// Shutdown flushes and stops all configured providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
