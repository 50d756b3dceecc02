package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

const maxMessageBody = 64 << 10

// Responder is satisfied by *Assistant.
type Responder interface {
	Handle(ctx context.Context, message, userID string) Response
}

// Handler serves POST /ai-agent. It always answers 200; failures are carried
// in the response body.
type Handler struct {
	assistant Responder
	logger    *logging.Logger
}

// NewHandler wraps a Responder, usually an *Assistant, for POST /ai-agent.
func NewHandler(assistant Responder, logger *logging.Logger) *Handler {
	if assistant == nil {
		panic("assistant: handler responder required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{assistant: assistant, logger: logger}
}

type agentRequest struct {
	Message string   `json:"message"`
	UserID  flexUser `json:"user_id"`
}

// flexUser accepts user_id as a JSON string or number.
type flexUser string

func (u *flexUser) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*u = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*u = flexUser(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("assistant: user_id must be a string or a number")
	}
	*u = flexUser(n.String())
	return nil
}

// ServeHTTP always answers 200. Malformed bodies become an invalid_message
// response instead of a 4xx.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	body := http.MaxBytesReader(w, r.Body, maxMessageBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.logger.Debug("assistant request rejected", "error", err)
		writeJSON(w, http.StatusOK, respond(false, ActionInvalidMessage, invalidMessage, nil))
		return
	}
	writeJSON(w, http.StatusOK, h.assistant.Handle(r.Context(), req.Message, string(req.UserID)))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
