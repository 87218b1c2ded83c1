package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/p-n-ai/pai-courses/internal/platform/config"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(t.Context(), config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestNewProvider_ExportsSampledSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := config.TracingConfig{Enabled: true, ServiceName: "pai-courses-test", SampleRatio: 1}

	tp, err := NewProvider(t.Context(), cfg, exporter)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(t.Context(), "learning.LoadCourse")
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "learning.LoadCourse" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "pai-courses-test" {
		t.Errorf("service.name = %q", service)
	}
}

func TestNewProvider_ZeroRatioDropsRootSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewProvider(t.Context(), config.TracingConfig{ServiceName: "x", SampleRatio: 0}, exporter)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(t.Context(), "dropped")
	span.End()
	_ = tp.Shutdown(context.Background())

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("exported %d spans, want 0", n)
	}
}
