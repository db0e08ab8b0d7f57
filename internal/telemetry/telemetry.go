// Package telemetry wires OpenTelemetry into bp runs. Providers are no-ops
// unless BP_OTEL_ENABLED=true.
//
// With BP_OTEL_STDOUT=true spans and metrics are pretty-printed to Output.
// Metrics are pushed over OTLP/HTTP when OTEL_EXPORTER_OTLP_METRICS_ENDPOINT
// or OTEL_EXPORTER_OTLP_ENDPOINT is set. OTEL_SERVICE_NAME overrides the
// service name passed to Init.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const defaultScope = "github.com/steveyegge/backport"

// Output receives the stdout exporters' output.
var Output io.Writer = os.Stdout

var shutdownFns []func(context.Context) error

// exportConfig is the exporter setup read from the environment.
type exportConfig struct {
	enabled         bool
	stdout          bool
	metricsEndpoint string
	serviceName     string
}

func exportConfigFromEnv(serviceName string) exportConfig {
	cfg := exportConfig{
		enabled:         os.Getenv("BP_OTEL_ENABLED") == "true",
		stdout:          os.Getenv("BP_OTEL_STDOUT") == "true",
		metricsEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		serviceName:     serviceName,
	}
	if cfg.metricsEndpoint == "" {
		cfg.metricsEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.serviceName = name
	}
	return cfg
}

// Enabled reports whether BP_OTEL_ENABLED turns telemetry on.
func Enabled() bool {
	return exportConfigFromEnv("").enabled
}

// Init installs the global tracer and meter providers for one bp process.
func Init(ctx context.Context, serviceName, version string) error {
	cfg := exportConfigFromEnv(serviceName)
	if !cfg.enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := newTracerProvider(cfg, res)
	if err != nil {
		return fmt.Errorf("telemetry: tracer provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: meter provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, tp.Shutdown, mp.Shutdown)
	return nil
}

// Spans only leave the process in stdout mode. A run is one short command,
// so the OTLP endpoint gets metrics only.
func newTracerProvider(cfg exportConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.stdout {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(Output), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, cfg exportConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(Output))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))))
	}
	if cfg.metricsEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, cfg.metricsEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Tracer returns the named tracer, or the bp tracer for an empty name.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = defaultScope
	}
	return otel.Tracer(name)
}

// Meter returns the named meter, or the bp meter for an empty name.
func Meter(name string) metric.Meter {
	if name == "" {
		name = defaultScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics. Providers installed by Init
// are released even when one of them fails to flush.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range shutdownFns {
		errs = append(errs, fn(ctx))
	}
	shutdownFns = nil
	return errors.Join(errs...)
}
