package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

// Backend is what the CRUD endpoints need. *Service satisfies it, and so does
// the cache-aware availability gateway that wraps it.
type Backend interface {
	ListPatients(ctx context.Context) ([]Patient, error)
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	CreatePatient(ctx context.Context, req PatientRequest) (*Patient, bool, error)
	UpdatePatient(ctx context.Context, id int64, req PatientRequest) (*Patient, error)
	DeletePatient(ctx context.Context, id int64) error
	ListDoctors(ctx context.Context) ([]Doctor, error)
	AvailableSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error)
	FindAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error)
	CancelAppointment(ctx context.Context, id int64) (*Appointment, error)
	PaymentInfo(ctx context.Context) (PaymentInfo, error)
}

// Handler serves the clinic CRUD API.
type Handler struct {
	backend Backend
	logger  *logging.Logger
}

// NewHandler panics on a nil backend.
func NewHandler(backend Backend, logger *logging.Logger) *Handler {
	if backend == nil {
		panic("clinic: handler backend required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{backend: backend, logger: logger}
}

// Routes mounts under /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/patients", h.ListPatients)
	r.Post("/patients", h.CreatePatient)
	r.Get("/patients/{id}", h.GetPatient)
	r.Put("/patients/{id}", h.UpdatePatient)
	r.Delete("/patients/{id}", h.DeletePatient)
	r.Get("/doctors", h.ListDoctors)
	r.Get("/schedules/available", h.AvailableSchedules)
	r.Get("/appointments", h.ListAppointments)
	r.Post("/appointments", h.CreateAppointment)
	r.Delete("/appointments/{id}", h.CancelAppointment)
	r.Get("/payment-info", h.PaymentInfo)
	return r
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.backend.ListPatients(r.Context())
	if err != nil {
		h.fail(w, "list patients", err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

// GetPatient handles GET /patients/{id}.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	patient, err := h.backend.GetPatient(r.Context(), id)
	if err != nil {
		h.fail(w, "get patient", err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

// CreatePatient handles POST /patients. A known CPF updates the existing
// patient and answers 200 instead of 201.
func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req PatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	patient, created, err := h.backend.CreatePatient(r.Context(), req)
	if err != nil {
		h.fail(w, "create patient", err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Patient updated successfully", "patient": patient})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Patient created successfully", "patient": patient})
}

// UpdatePatient handles PUT /patients/{id}.
func (h *Handler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	patient, err := h.backend.UpdatePatient(r.Context(), id, req)
	if err != nil {
		h.fail(w, "update patient", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Patient updated successfully", "patient": patient})
}

// DeletePatient handles DELETE /patients/{id}.
func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.backend.DeletePatient(r.Context(), id); err != nil {
		h.fail(w, "delete patient", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.backend.ListDoctors(r.Context())
	if err != nil {
		h.fail(w, "list doctors", err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

// AvailableSchedules handles GET /schedules/available?date=&doctor_id=.
func (h *Handler) AvailableSchedules(w http.ResponseWriter, r *http.Request) {
	filter := ScheduleFilter{}
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		parsed, err := ParseDate(date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
			return
		}
		filter.Date = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("doctor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "doctor_id must be a positive integer")
			return
		}
		filter.DoctorID = id
	}
	schedules, err := h.backend.AvailableSchedules(r.Context(), filter)
	if err != nil {
		h.fail(w, "available schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := AppointmentFilter{Status: strings.TrimSpace(q.Get("status"))}
	if raw := q.Get("patient_id"); raw != "" {
		filter.PatientID, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw := q.Get("doctor_id"); raw != "" {
		filter.DoctorID, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw := q.Get("date"); raw != "" {
		date, err := ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
			return
		}
		filter.Date = date
	}
	appts, err := h.backend.FindAppointments(r.Context(), filter)
	if err != nil {
		h.fail(w, "list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

// CreateAppointment handles POST /appointments.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	appt, err := h.backend.CreateAppointment(r.Context(), req)
	if err != nil {
		h.fail(w, "create appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "Appointment created successfully",
		"appointment": appt,
	})
}

// CancelAppointment handles DELETE /appointments/{id}.
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := h.backend.CancelAppointment(r.Context(), id)
	if err != nil {
		h.fail(w, "cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Appointment cancelled successfully",
		"appointment": appt,
	})
}

func (h *Handler) PaymentInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.backend.PaymentInfo(r.Context())
	if err != nil {
		h.fail(w, "payment info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("clinic request failed", "op", op, "error", err)
	} else {
		h.logger.Debug("clinic request rejected", "op", op, "error", err)
	}
	writeError(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), "clinic: ")
	case errors.Is(err, ErrPatientNotFound):
		return http.StatusNotFound, "Patient not found"
	case errors.Is(err, ErrDoctorNotFound):
		return http.StatusNotFound, "Doctor not found"
	case errors.Is(err, ErrAppointmentNotFound):
		return http.StatusNotFound, "Appointment not found"
	case errors.Is(err, ErrSlotUnavailable):
		return http.StatusConflict, "Time slot not available"
	case errors.Is(err, ErrAlreadyCancelled):
		return http.StatusConflict, "Appointment already cancelled"
	case errors.Is(err, ErrDuplicatePatient):
		return http.StatusConflict, "Another patient already uses this CPF"
	case errors.Is(err, ErrPatientHasAppointments):
		return http.StatusConflict, "Patient has appointments and cannot be deleted"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
