package clinic

import "errors"

var (
	ErrPatientNotFound     = errors.New("clinic: patient not found")
	ErrDoctorNotFound      = errors.New("clinic: doctor not found")
	ErrAppointmentNotFound = errors.New("clinic: appointment not found")
	ErrSlotUnavailable     = errors.New("clinic: time slot not available")
	ErrAlreadyCancelled    = errors.New("clinic: appointment already cancelled")
	ErrInvalidRequest      = errors.New("clinic: invalid request")

	// ErrDuplicatePatient is returned when an update would give a patient the
	// CPF of another patient.
	ErrDuplicatePatient = errors.New("clinic: another patient has this cpf")
	// ErrPatientHasAppointments blocks deleting a patient that still owns
	// appointment rows.
	ErrPatientHasAppointments = errors.New("clinic: patient has appointments")
)
