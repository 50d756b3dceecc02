package availability

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

// Handler exposes cache observability and the admin flush.
type Handler struct {
	gateway *Gateway
	logger  *logging.Logger
}

// NewHandler panics on a nil gateway.
func NewHandler(gateway *Gateway, logger *logging.Logger) *Handler {
	if gateway == nil {
		panic("availability: gateway required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{gateway: gateway, logger: logger}
}

// Routes returns the cache routes. admin wraps POST /clear only.
func (h *Handler) Routes(admin ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.Stats)
	r.Get("/health", h.Health)
	r.With(admin...).Post("/clear", h.Clear)
	return r
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.Stats())
}

// Health always answers 200; an absent or unreachable cache is a normal
// operating mode, so the backend state is reported in the body only.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  h.gateway.Health(r.Context()),
		"enabled": h.gateway.Stats().Enabled,
	})
}

// Clear handles POST /cache/clear.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	n := h.gateway.Clear(r.Context())
	h.logger.Info("schedule cache cleared by admin", "deleted", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Cache cleared successfully",
		"deleted": n,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
