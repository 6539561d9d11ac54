// Package telemetry installs the OpenTelemetry tracer provider used by the
// sink HTTP client and the visit emitter.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// Exporter names accepted in TraceConfig.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	EnvTraceExporter = "AGENTLENS_TRACE_EXPORTER"
	EnvTraceEndpoint = "AGENTLENS_TRACE_ENDPOINT"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "agentlens"

// TraceConfig selects where spans go. Tracing is off by default.
type TraceConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout, otlp
	Endpoint string `yaml:"endpoint"` // otlp collector host:port
}

// ApplyEnv overlays AGENTLENS_TRACE_* values onto c.
func (c *TraceConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTraceExporter); ok && v != "" {
		c.Exporter = v
	}
	if v, ok := lookup(EnvTraceEndpoint); ok && v != "" {
		c.Endpoint = v
	}
}

// Validate rejects unknown exporters and an otlp exporter without endpoint.
func (c TraceConfig) Validate() error {
	switch c.Exporter {
	case "", ExporterNone, ExporterStdout:
		return nil
	case ExporterOTLP:
		if c.Endpoint == "" {
			return fmt.Errorf("trace exporter %q requires an endpoint", c.Exporter)
		}
		return nil
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Exporter)
	}
}

// Provider owns the installed tracer provider. A nil Provider is a no-op.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup installs a global tracer provider for cfg. With no exporter it
// returns a nil Provider and leaves the global no-op provider in place.
// stdout spans are written to w.
func Setup(ctx context.Context, cfg TraceConfig, version string, w io.Writer) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	case ExporterOTLP:
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
