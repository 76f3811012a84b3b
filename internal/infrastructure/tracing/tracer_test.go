package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(config.TracingConfig{Enabled: false}, "dev")
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Enabled() {
		t.Error("disabled provider reports Enabled")
	}
	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "carrier-pigeon"}, "dev")
	if err == nil {
		t.Fatal("NewProvider() accepted an unknown exporter")
	}
}

func TestNewProvider_NoneExporter(t *testing.T) {
	p, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "none"}, "dev")
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Shutdown(context.Background())
	if !p.Enabled() {
		t.Error("Enabled() = false")
	}
}

func TestSpansExported(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p := newProvider(config.TracingConfig{Enabled: true, ServiceName: "hub-test", SampleRatio: 1}, "1.0.0", exporter)

	_, span := p.Tracer().Start(context.Background(), SpanPrefixCommand+"call_service")
	span.SetAttributes(attribute.String(AttrDomain, "light"))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	// The in-memory exporter forgets its spans on shutdown.
	defer p.Shutdown(context.Background()) //nolint:errcheck // test teardown
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "ws.command.call_service" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Status.Code != codes.Error || got.Status.Description != "boom" {
		t.Errorf("Status = %+v", got.Status)
	}
	if v, ok := got.Resource.Set().Value("service.name"); !ok || v.AsString() != "hub-test" {
		t.Errorf("service.name = %v", v)
	}
}
