package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-assistant/internal/assistant"
	"github.com/wolfman30/clinic-assistant/internal/availability"
	"github.com/wolfman30/clinic-assistant/internal/clinic"
	httpmiddleware "github.com/wolfman30/clinic-assistant/internal/http/middleware"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	ClinicHandler    *clinic.Handler
	CacheHandler     *availability.Handler
	AssistantHandler *assistant.Handler
	MetricsHandler   http.Handler

	// AssistantLimiter throttles /ai-agent per user or client IP. Nil disables it.
	AssistantLimiter   *httpmiddleware.RateLimiter
	AdminAuthSecret    string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.AssistantHandler != nil {
		var limits []func(http.Handler) http.Handler
		if cfg.AssistantLimiter != nil {
			limits = append(limits, httpmiddleware.RateLimit(cfg.AssistantLimiter, httpmiddleware.UserOrIPKey))
		}
		agent := r.With(limits...)
		agent.Post("/ai-agent", cfg.AssistantHandler.ServeHTTP)
		agent.Post("/api/v1/agent", cfg.AssistantHandler.ServeHTTP)
	}

	if cfg.CacheHandler != nil {
		adminAuth := httpmiddleware.AdminJWT(cfg.AdminAuthSecret)
		r.Mount("/cache", cfg.CacheHandler.Routes(adminAuth))
		r.Mount("/api/v1/cache", cfg.CacheHandler.Routes(adminAuth))
	}

	if cfg.ClinicHandler != nil {
		r.Mount("/api/v1", cfg.ClinicHandler.Routes())
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
