package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "REDIS_ADDR", "CACHE_ENABLED", "CACHE_SCHEDULE_TTL", "SESSION_BACKEND", "SESSION_TIMEOUT", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected redis disabled by default, got %s", cfg.RedisAddr)
	}
	if !cfg.CacheEnabled {
		t.Fatalf("expected cache enabled by default")
	}
	if cfg.CacheScheduleTTL != 300*time.Second {
		t.Fatalf("expected 300s schedule ttl, got %s", cfg.CacheScheduleTTL)
	}
	if cfg.SessionBackend != "memory" {
		t.Fatalf("expected memory sessions, got %s", cfg.SessionBackend)
	}
	if cfg.SessionTimeout != 15*time.Minute {
		t.Fatalf("expected 15m session timeout, got %s", cfg.SessionTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard CORS, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("CACHE_SCHEDULE_TTL", "1m")
	t.Setenv("CACHE_OP_TIMEOUT", "50ms")
	t.Setenv("SESSION_BACKEND", " Redis ")
	t.Setenv("SESSION_TIMEOUT", "5m")
	t.Setenv("ASSISTANT_RATE_PER_SECOND", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.RedisDB)
	}
	if cfg.CacheEnabled {
		t.Fatalf("expected cache disabled")
	}
	if cfg.CacheScheduleTTL != time.Minute {
		t.Fatalf("expected ttl override, got %s", cfg.CacheScheduleTTL)
	}
	if cfg.CacheOpTimeout != 50*time.Millisecond {
		t.Fatalf("expected op timeout override, got %s", cfg.CacheOpTimeout)
	}
	if cfg.SessionBackend != "redis" {
		t.Fatalf("expected normalized session backend, got %q", cfg.SessionBackend)
	}
	if cfg.AssistantRatePerSecond != 0.5 {
		t.Fatalf("expected rate override, got %v", cfg.AssistantRatePerSecond)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CACHE_SCHEDULE_TTL", "soon")
	t.Setenv("REDIS_DB", "two")
	cfg := Load()
	if cfg.CacheScheduleTTL != 300*time.Second {
		t.Fatalf("expected fallback ttl, got %s", cfg.CacheScheduleTTL)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("expected fallback redis db, got %d", cfg.RedisDB)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CLINIC_ASSISTANT_DOTENV_CHECK=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CLINIC_ASSISTANT_DOTENV_CHECK") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv returned error: %v", err)
	}
	if got := os.Getenv("CLINIC_ASSISTANT_DOTENV_CHECK"); got != "loaded" {
		t.Fatalf("expected value from .env, got %q", got)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{ClinicTimezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
	var nilCfg *Config
	if nilCfg.Location() != time.UTC {
		t.Fatalf("expected UTC for nil config")
	}
}
