package clinic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-assistant/internal/notify"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

var clinicTracer = otel.Tracer("clinic.internal.clinic")

// BookingNotifier is told about every successful booking.
type BookingNotifier interface {
	AppointmentBooked(ctx context.Context, d notify.AppointmentDetails) error
}

// Service is the scheduling collaborator used by the HTTP handlers, the
// availability gateway and the assistant.
type Service struct {
	repo     Repository
	notifier BookingNotifier
	payment  PaymentInfo
	logger   *logging.Logger
}

// NewService constructs a clinic service. notifier may be nil.
func NewService(repo Repository, notifier BookingNotifier, logger *logging.Logger) *Service {
	if repo == nil {
		panic("clinic: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, notifier: notifier, payment: DefaultPaymentInfo(), logger: logger}
}

func (s *Service) ListPatients(ctx context.Context) ([]Patient, error) {
	return s.repo.ListPatients(ctx)
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

// CreatePatient registers a patient, or updates the one already holding the
// request's CPF. created reports which of the two happened.
func (s *Service) CreatePatient(ctx context.Context, req PatientRequest) (*Patient, bool, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.create_patient")
	defer span.End()

	if err := req.Normalize(); err != nil {
		return nil, false, err
	}
	p, created, err := s.repo.UpsertPatient(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Int64("clinic.patient_id", p.ID), attribute.Bool("clinic.created", created))
	s.logger.Info("patient registered", "patient_id", p.ID, "created", created)
	return p, created, nil
}

func (s *Service) UpdatePatient(ctx context.Context, id int64, req PatientRequest) (*Patient, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.update_patient")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.patient_id", id))

	if err := req.Normalize(); err != nil {
		return nil, err
	}
	p, err := s.repo.UpdatePatient(ctx, id, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("patient updated", "patient_id", id)
	return p, nil
}

func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	ctx, span := clinicTracer.Start(ctx, "clinic.delete_patient")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.patient_id", id))

	if err := s.repo.DeletePatient(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("patient deleted", "patient_id", id)
	return nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx)
}

func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

// AvailableSchedules goes straight to the repository. Callers wanting the
// cache go through availability.Gateway.
func (s *Service) AvailableSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.available_schedules")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.date", filter.Date),
		attribute.Int64("clinic.doctor_id", filter.DoctorID),
	)
	if filter.Date != "" {
		date, err := ParseDate(filter.Date)
		if err != nil {
			return nil, err
		}
		filter.Date = date
	}
	out, err := s.repo.AvailableSchedules(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

func (s *Service) FindAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	return s.repo.ListAppointments(ctx, filter)
}

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

// CreateAppointment books a slot and emails a confirmation. Email failures
// are logged and do not fail the booking.
func (s *Service) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.create_appointment")
	defer span.End()

	if err := req.Normalize(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("clinic.patient_id", req.PatientID),
		attribute.Int64("clinic.doctor_id", req.DoctorID),
		attribute.String("clinic.date", req.Date),
		attribute.String("clinic.time", req.Time),
	)

	appt, err := s.repo.CreateAppointment(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"patient_id", appt.PatientID,
		"doctor_id", appt.DoctorID,
		"date", appt.Date,
		"time", appt.Time,
	)
	s.sendConfirmation(ctx, appt)
	return appt, nil
}

func (s *Service) CancelAppointment(ctx context.Context, id int64) (*Appointment, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.cancel_appointment")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.appointment_id", id))

	appt, err := s.repo.CancelAppointment(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "doctor_id", appt.DoctorID, "date", appt.Date, "time", appt.Time)
	return appt, nil
}

func (s *Service) PaymentInfo(ctx context.Context) (PaymentInfo, error) {
	info := s.payment
	info.AcceptedMethods = append([]string(nil), s.payment.AcceptedMethods...)
	info.InsuranceAccepted = append([]string(nil), s.payment.InsuranceAccepted...)
	return info, nil
}

// PatientIDForUser maps an assistant user id onto a patient. Numeric ids are
// patient ids; anything else is matched against email, phone or CPF.
func (s *Service) PatientIDForUser(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrPatientNotFound
	}
	if id, err := strconv.ParseInt(userID, 10, 64); err == nil && id > 0 {
		p, err := s.repo.GetPatient(ctx, id)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, ErrPatientNotFound) {
			return 0, err
		}
	}
	lookup := PatientLookup{}
	if strings.Contains(userID, "@") {
		lookup.Email = userID
	} else {
		lookup.Digits = OnlyDigits(userID)
	}
	if lookup.Email == "" && lookup.Digits == "" {
		return 0, ErrPatientNotFound
	}
	p, err := s.repo.FindPatient(ctx, lookup)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return 0, fmt.Errorf("clinic: user %q: %w", userID, ErrPatientNotFound)
		}
		return 0, err
	}
	return p.ID, nil
}

func (s *Service) sendConfirmation(ctx context.Context, appt *Appointment) {
	if s.notifier == nil {
		return
	}
	patient, err := s.repo.GetPatient(ctx, appt.PatientID)
	if err != nil {
		s.logger.Warn("confirmation skipped: patient lookup failed", "appointment_id", appt.ID, "error", err)
		return
	}
	err = s.notifier.AppointmentBooked(ctx, notify.AppointmentDetails{
		AppointmentID:   appt.ID,
		PatientName:     patient.Name,
		PatientEmail:    patient.Email,
		DoctorName:      appt.DoctorName,
		DoctorSpecialty: appt.DoctorSpecialty,
		Date:            appt.Date,
		Time:            appt.Time,
	})
	if err != nil {
		s.logger.Warn("appointment confirmation email failed", "appointment_id", appt.ID, "error", err)
	}
}
