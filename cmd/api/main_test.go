package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/clinic-assistant/internal/config"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Port:                   "0",
		CacheEnabled:           true,
		CacheScheduleTTL:       time.Minute,
		CacheOpTimeout:         time.Second,
		SessionBackend:         "memory",
		SessionTimeout:         time.Minute,
		ClinicTimezone:         "UTC",
		AssistantRatePerSecond: 100,
		AssistantRateBurst:     100,
		AdminJWTSecret:         "secret",
		CORSAllowedOrigins:     []string{"*"},
	}
}

func TestBuildAppInMemory(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(), logging.New("error"), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	defer a.Close()

	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/doctors", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var doctors []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&doctors); err != nil {
		t.Fatalf("decode doctors: %v", err)
	}
	if len(doctors) != 4 {
		t.Fatalf("expected 4 seeded doctors, got %d", len(doctors))
	}
	if a.gateway.Stats().Enabled {
		t.Fatalf("expected cache disabled without redis")
	}
}

func TestBuildAppWithRedisCachesSchedules(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	cfg.SessionBackend = "redis"

	a, err := buildApp(context.Background(), cfg, logging.New("error"), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	defer a.Close()

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/schedules/available?date=2024-01-15", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	}
	stats := a.gateway.Stats()
	if !stats.Enabled || stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected cache stats %+v", stats)
	}

	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ai-agent", strings.NewReader(`{"message":"Quero agendar uma consulta","user_id":"1"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected redis to hold cache or session keys")
	}
}

func TestBuildAppRejectsUnknownSessionBackend(t *testing.T) {
	cfg := testConfig()
	cfg.SessionBackend = "carrier-pigeon"
	if _, err := buildApp(context.Background(), cfg, logging.New("error"), prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected error for unknown session backend")
	}
}

func TestBuildAppExposesMetrics(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(), logging.New("error"), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	defer a.Close()

	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ai-agent", strings.NewReader(`{"message":"Olá"}`)))

	rr = httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "clinic_assistant_actions_total") {
		t.Fatalf("expected assistant action counter to be exported")
	}
}
