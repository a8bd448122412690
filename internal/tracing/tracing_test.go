package tracing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitDisabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	tests := []struct {
		name string
		cfg  domain.TracingConfig
	}{
		{"Disabled", domain.TracingConfig{Enabled: false, Endpoint: "localhost:4317"}},
		{"NoEndpoint", domain.TracingConfig{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Init(context.Background(), tt.cfg, "test", discardLogger())
			if err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
				t.Error("expected the global provider to stay a no-op")
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("no-op shutdown failed: %v", err)
			}
		})
	}
}

func TestInitEnabled(t *testing.T) {
	shutdown, err := Init(context.Background(), domain.TracingConfig{
		Enabled:     true,
		ServiceName: "fraudguard-test",
		Endpoint:    "localhost:4317",
	}, "test", discardLogger())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("expected an SDK tracer provider, got %T", otel.GetTracerProvider())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
