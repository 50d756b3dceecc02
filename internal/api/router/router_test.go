package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-assistant/internal/assistant"
	"github.com/wolfman30/clinic-assistant/internal/availability"
	"github.com/wolfman30/clinic-assistant/internal/cache"
	"github.com/wolfman30/clinic-assistant/internal/clinic"
	httpmiddleware "github.com/wolfman30/clinic-assistant/internal/http/middleware"
	"github.com/wolfman30/clinic-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

const testAdminSecret = "router-secret"

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()

	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	svc := clinic.NewService(clinic.NewMemoryRepository(clinic.DefaultSeed()), nil, logger)
	gw := availability.NewGateway(svc, cache.NewNoopStore(), availability.Options{
		Logger:  logger,
		Metrics: metrics.NewCacheMetrics(reg),
	})
	bot := assistant.New(gw, assistant.Options{
		Logger:  logger,
		Metrics: metrics.NewAssistantMetrics(reg),
		Now:     func() time.Time { return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC) },
	})

	return New(&Config{
		Logger:             logger,
		ClinicHandler:      clinic.NewHandler(gw, logger),
		CacheHandler:       availability.NewHandler(gw, logger),
		AssistantHandler:   assistant.NewHandler(bot, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AssistantLimiter:   limiter,
		AdminAuthSecret:    testAdminSecret,
		CORSAllowedOrigins: []string{"*"},
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected request id header")
	}
}

func TestRouterClinicRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{
		"/api/v1/patients",
		"/api/v1/patients/1",
		"/api/v1/doctors",
		"/api/v1/schedules/available?date=2024-01-15",
		"/api/v1/appointments",
		"/api/v1/payment-info",
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusOK, rr.Code)
		}
	}
}

func TestRouterBookAndCancelAppointment(t *testing.T) {
	router := newTestRouter(t, nil)

	body, _ := json.Marshal(clinic.CreateAppointmentRequest{PatientID: 1, DoctorID: 1, Date: "2024-01-15", Time: "09:00"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader(body)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	var created struct {
		Appointment clinic.Appointment `json:"appointment"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode appointment: %v", err)
	}
	if created.Appointment.ID == 0 {
		t.Fatalf("expected appointment id in response")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader(body)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d for a taken slot, got %d", http.StatusConflict, rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/appointments/"+strconv.FormatInt(created.Appointment.ID, 10), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterAssistantEndpoints(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/ai-agent", "/api/v1/agent"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"message":"Olá","user_id":"1"}`)))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status %d, got %d", path, http.StatusOK, rr.Code)
		}
		var resp assistant.Response
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.ActionTaken != assistant.ActionGreeting || !resp.Success {
			t.Fatalf("%s: unexpected response %+v", path, resp)
		}
	}
}

func TestRouterAssistantRateLimited(t *testing.T) {
	router := newTestRouter(t, httpmiddleware.NewRateLimiter(0.001, 1))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/ai-agent", strings.NewReader(`{"message":"Olá","user_id":"1"}`))
		req.Header.Set("X-User-ID", "1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, code)
	}
}

func TestRouterCacheRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cache/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d without a cache backend, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"Unavailable"`) {
		t.Fatalf("expected Unavailable status in body, got %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without a token, got %d", http.StatusUnauthorized, rr.Code)
	}

	token, err := httpmiddleware.IssueAdminToken(testAdminSecret, "ops", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d with a token, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ai-agent", strings.NewReader(`{"message":"Olá","user_id":"1"}`)))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "clinic_assistant_intents_total") {
		t.Fatalf("expected assistant metrics in output")
	}
}
