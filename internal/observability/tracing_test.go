package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("OMN_TRACING_ENABLED", "TRUE")
	t.Setenv("OMN_TRACING_EXPORTER", "OTLP")
	t.Setenv("OMN_TRACING_SERVICE_NAME", "")
	t.Setenv("OMN_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("OMN_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled {
		t.Fatalf("Enabled = false, want true")
	}
	if cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("exporter = %q endpoint = %q", cfg.Exporter, cfg.Endpoint)
	}
	if cfg.ServiceName != "omnsim" {
		t.Fatalf("ServiceName = %q, want omnsim", cfg.ServiceName)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("SampleRatio = %v, want 0.25", cfg.SampleRatio)
	}
	if !cfg.Insecure {
		t.Fatalf("OTLP should default to plaintext")
	}
}

func TestTracingConfigFallbacks(t *testing.T) {
	env := map[string]string{
		"OMN_TRACING_SAMPLE_RATIO": "7",
		"OMN_OTLP_INSECURE":        "false",
	}
	cfg := tracingConfigFrom(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Enabled {
		t.Fatalf("tracing should default to disabled")
	}
	if cfg.Exporter != "stdout" {
		t.Fatalf("Exporter = %q, want stdout", cfg.Exporter)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("out-of-range ratio should fall back to 1, got %v", cfg.SampleRatio)
	}
	if cfg.Insecure {
		t.Fatalf("OMN_OTLP_INSECURE=false should request TLS")
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "omnsim-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
		Attributes:  []attribute.KeyValue{attribute.String("omn.scenario", "campus")},
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer("test").Start(ctx, "simulation.window")
	span.End()
	ShutdownWithTimeout(ctx, shutdown, nil)

	for _, want := range []string{"simulation.window", "omn.scenario", "omnsim-test"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("exported spans missing %q: %s", want, buf.String())
		}
	}
}

func TestInitTracingDisabledAndUnsupported(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("disabled InitTracing: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}

	if _, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
