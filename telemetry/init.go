package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/multierr"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// Config holds the configuration for OpenTelemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Environment is the deployment environment (e.g., "production", "staging").
	Environment string

	// Exporter selects the span exporter: "stdout", "otlp" or "none".
	Exporter string
	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	Endpoint string
	// Insecure disables TLS towards the OTLP endpoint.
	Insecure bool
	// Output receives spans from the stdout exporter. Defaults to os.Stdout.
	Output io.Writer

	// SampleRate is the sampling rate for traces (0.0 to 1.0).
	SampleRate float64

	// MetricReader, when set, is attached to the meter provider.
	MetricReader sdkmetric.Reader

	ResourceAttributes map[string]string
	Logger             logr.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	serviceName := "stategraph"
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		serviceName = name
	}
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: InstrumentationVersion,
		Environment:    "development",
		Exporter:       ExporterStdout,
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// Init builds tracer and meter providers from cfg, installs them as the
// global providers and returns Telemetry bound to them. The returned
// function flushes and shuts both providers down.
func Init(ctx context.Context, cfg *Config) (*Telemetry, func(context.Context) error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
		log.V(1).Info("trace exporter ready", "exporter", cfg.Exporter, "endpoint", cfg.Endpoint)
	}
	tp := sdktrace.NewTracerProvider(opts...)

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		metricOpts = append(metricOpts, sdkmetric.WithReader(cfg.MetricReader))
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t, err := New(tp, mp)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(ctx context.Context) error {
		return multierr.Combine(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return t, shutdown, nil
}

func newExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	for key, value := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
}
