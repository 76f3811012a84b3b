// Package tracing configures OpenTelemetry for the hub.
//
// When disabled the provider hands out a no-op tracer, so callers can
// start spans unconditionally.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

const (
	defaultServiceName  = "grayhub"
	defaultOTLPEndpoint = "localhost:4317"
)

// Provider owns the tracer provider and the hub's tracer.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewProvider builds a provider for cfg.Exporter ("stdout", "otlp" or
// "none"). A disabled config yields a no-op provider.
func NewProvider(cfg config.TracingConfig, version string) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Exporter, err)
	}

	p := newProvider(cfg, version, exporter)
	otel.SetTracerProvider(p.provider)
	return p, nil
}

func newProvider(cfg config.TracingConfig, version string, exporter sdktrace.SpanExporter) *Provider {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
			attribute.String("service.version", version),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	return &Provider{provider: tp, tracer: tp.Tracer(name)}
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(defaultServiceName)}
}

// Tracer returns the tracer. Never nil.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool {
	return p.provider != nil
}

// ForceFlush exports every span that has ended so far.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.ForceFlush(ctx)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
