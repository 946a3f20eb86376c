package observability

import (
	"testing"

	"github.com/smallbiznis/paydesk/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{AppName: "", Environment: "production", OTLPEndpoint: "collector:4317"})
	if cfg.ServiceName != "paydesk" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.OtelEnabled {
		t.Fatalf("expected otel disabled by default")
	}
	if cfg.OtelExporterEndpoint != "collector:4317" {
		t.Fatalf("expected endpoint from app config, got %q", cfg.OtelExporterEndpoint)
	}
	if cfg.Debug() {
		t.Fatalf("production info level must not be debug")
	}
}

func TestDebugInDevelopment(t *testing.T) {
	cfg := Config{LogLevel: "info", Environment: "development"}
	if !cfg.Debug() {
		t.Fatalf("expected debug in development")
	}
}
