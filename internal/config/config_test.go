package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "AGENT_HEADLESS", "NAV_TIMEOUT", "BULK_MAX_CONCURRENT", "BULK_DELAY_MS"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.AppEnv != EnvDevelopment {
		t.Errorf("expected development env, got %q", cfg.AppEnv)
	}
	if cfg.Headless {
		t.Error("development profile should not be headless by default")
	}
	if cfg.NavTimeout != 30*time.Second {
		t.Errorf("expected 30s nav timeout, got %v", cfg.NavTimeout)
	}
	if cfg.BulkMaxConcurrent != 3 {
		t.Errorf("expected max concurrent 3, got %d", cfg.BulkMaxConcurrent)
	}
	if cfg.BulkDelay != 2*time.Second {
		t.Errorf("expected 2s bulk delay, got %v", cfg.BulkDelay)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	t.Setenv("AGENT_HEADLESS", "")
	t.Setenv("NAV_TIMEOUT", "15000")
	t.Setenv("RETRY_DELAY", "750ms")
	t.Setenv("BULK_MAX_CONCURRENT", "not-a-number")

	cfg := FromEnv()
	if !cfg.Production() {
		t.Fatalf("expected production, got %q", cfg.AppEnv)
	}
	if !cfg.Headless {
		t.Error("production profile should default to headless")
	}
	if cfg.NavTimeout != 15*time.Second {
		t.Errorf("expected bare milliseconds to parse, got %v", cfg.NavTimeout)
	}
	if cfg.RetryDelay != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", cfg.RetryDelay)
	}
	if cfg.BulkMaxConcurrent != 3 {
		t.Errorf("invalid int should keep default, got %d", cfg.BulkMaxConcurrent)
	}
}
