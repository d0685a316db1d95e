package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Errorf("APIBasePath = %s, want /api/v1", cfg.APIBasePath)
	}
	if cfg.Dispatch.Interval != 30*time.Second {
		t.Errorf("Dispatch.Interval = %v, want 30s", cfg.Dispatch.Interval)
	}
	if cfg.Dispatch.MaxRetries != 3 {
		t.Errorf("Dispatch.MaxRetries = %d, want 3", cfg.Dispatch.MaxRetries)
	}
	if cfg.Dispatch.SweepSpec != "@every 5m" {
		t.Errorf("Dispatch.SweepSpec = %q", cfg.Dispatch.SweepSpec)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %s, want release", cfg.GinMode)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DISPATCH_INTERVAL", "5s")
	t.Setenv("DISPATCH_MAX_RETRIES", "7")
	t.Setenv("SWEEP_STUCK_GRACE", "30m")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("API_BASE_PATH", "v2/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.Dispatch.Interval != 5*time.Second {
		t.Errorf("Dispatch.Interval = %v", cfg.Dispatch.Interval)
	}
	if cfg.Dispatch.MaxRetries != 7 {
		t.Errorf("Dispatch.MaxRetries = %d", cfg.Dispatch.MaxRetries)
	}
	if cfg.Dispatch.StuckGrace != 30*time.Minute {
		t.Errorf("Dispatch.StuckGrace = %v", cfg.Dispatch.StuckGrace)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn (normalized)", cfg.LogLevel)
	}
	if cfg.APIBasePath != "/v2" {
		t.Errorf("APIBasePath = %s, want /v2", cfg.APIBasePath)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"zero dispatch interval", "DISPATCH_INTERVAL", "0s"},
		{"zero retries", "DISPATCH_MAX_RETRIES", "0"},
		{"cap below base", "DISPATCH_BACKOFF_CAP", "1s"},
		{"zero grace", "SWEEP_STUCK_GRACE", "0s"},
		{"zero idempotency ttl", "IDEMPOTENCY_TTL", "0s"},
		{"sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
