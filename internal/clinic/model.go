// Package clinic holds the scheduling collaborator: patients, doctors, their
// open schedule slots and the appointments booked against them.
package clinic

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

// Patient is a registered patient. CPF is stored as ddd.ddd.ddd-dd.
type Patient struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CPF       string    `json:"cpf"`
	BirthDate string    `json:"birth_date,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Doctor struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Schedule is one bookable slot of a doctor's agenda.
type Schedule struct {
	ID              int64  `json:"id"`
	DoctorID        int64  `json:"doctor_id"`
	DoctorName      string `json:"doctor_name"`
	DoctorSpecialty string `json:"doctor_specialty"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	IsAvailable     bool   `json:"is_available"`
}

// Appointment is a booking. The name fields are filled on reads only.
type Appointment struct {
	ID              int64     `json:"id"`
	PatientID       int64     `json:"patient_id"`
	PatientName     string    `json:"patient_name,omitempty"`
	DoctorID        int64     `json:"doctor_id"`
	DoctorName      string    `json:"doctor_name,omitempty"`
	DoctorSpecialty string    `json:"doctor_specialty,omitempty"`
	Date            string    `json:"appointment_date"`
	Time            string    `json:"appointment_time"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
}

// ScheduleFilter narrows an availability lookup. Zero values mean "any".
type ScheduleFilter struct {
	Date     string
	DoctorID int64
}

// AppointmentFilter narrows an appointment listing. Zero values mean "any".
type AppointmentFilter struct {
	PatientID int64
	DoctorID  int64
	Date      string
	Status    string
}

type CreateAppointmentRequest struct {
	PatientID int64  `json:"patient_id"`
	DoctorID  int64  `json:"doctor_id"`
	Date      string `json:"appointment_date"`
	Time      string `json:"appointment_time"`
	Notes     string `json:"notes,omitempty"`
}

// Normalize validates the request and rewrites date/time into canonical form.
func (r *CreateAppointmentRequest) Normalize() error {
	if r.PatientID <= 0 {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	if r.DoctorID <= 0 {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidRequest)
	}
	date, err := ParseDate(r.Date)
	if err != nil {
		return err
	}
	clock, err := ParseTime(r.Time)
	if err != nil {
		return err
	}
	r.Date = date
	r.Time = clock
	r.Notes = strings.TrimSpace(r.Notes)
	return nil
}

// PatientRequest is the body of a patient registration or update.
type PatientRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	CPF       string `json:"cpf"`
	BirthDate string `json:"birth_date,omitempty"`
}

// Normalize validates the request. The CPF is rewritten as ddd.ddd.ddd-dd,
// the email lowercased and the birth date, given as YYYY-MM-DD or
// DD/MM/YYYY, rewritten as YYYY-MM-DD.
func (r *PatientRequest) Normalize() error {
	r.Name = strings.Join(strings.Fields(r.Name), " ")
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	cpf, err := FormatCPF(r.CPF)
	if err != nil {
		return err
	}
	r.CPF = cpf
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email != "" && !strings.Contains(r.Email, "@") {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidRequest, r.Email)
	}
	r.Phone = strings.TrimSpace(r.Phone)
	if r.BirthDate = strings.TrimSpace(r.BirthDate); r.BirthDate != "" {
		birth, err := ParseBirthDate(r.BirthDate)
		if err != nil {
			return err
		}
		r.BirthDate = birth
	}
	return nil
}

// FormatCPF accepts a CPF with or without punctuation and returns it as
// ddd.ddd.ddd-dd.
func FormatCPF(value string) (string, error) {
	d := OnlyDigits(value)
	if len(d) != 11 {
		return "", fmt.Errorf("%w: cpf must have 11 digits", ErrInvalidRequest)
	}
	return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11], nil
}

// ParseBirthDate accepts YYYY-MM-DD or DD/MM/YYYY and returns YYYY-MM-DD.
func ParseBirthDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{DateLayout, "02/01/2006", "2/1/2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("%w: invalid birth date %q, use YYYY-MM-DD", ErrInvalidRequest, value)
}

// PatientLookup identifies a patient by contact data. Digits holds a phone
// number or CPF with punctuation removed.
type PatientLookup struct {
	Email  string
	Digits string
}

type ConsultationFees struct {
	Private   string `json:"private"`
	Insurance string `json:"insurance"`
}

type PaymentInfo struct {
	Amount            float64          `json:"amount"`
	Currency          string           `json:"currency"`
	ConsultationFees  ConsultationFees `json:"consultation_fees"`
	AcceptedMethods   []string         `json:"accepted_methods"`
	InsuranceAccepted []string         `json:"insurance_accepted"`
}

// DefaultPaymentInfo is the clinic's published price list.
func DefaultPaymentInfo() PaymentInfo {
	return PaymentInfo{
		Amount:   200.00,
		Currency: "BRL",
		ConsultationFees: ConsultationFees{
			Private:   "R$ 200,00",
			Insurance: "Conforme tabela do convênio",
		},
		AcceptedMethods: []string{
			"Dinheiro",
			"Cartão de crédito",
			"Cartão de débito",
			"PIX",
			"Transferência bancária",
		},
		InsuranceAccepted: []string{"Unimed", "Bradesco Saúde", "Amil", "SulAmérica"},
	}
}

// ParseDate accepts YYYY-MM-DD and returns it canonicalized.
func ParseDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return "", fmt.Errorf("%w: invalid date %q, use YYYY-MM-DD", ErrInvalidRequest, value)
	}
	return t.Format(DateLayout), nil
}

// ParseTime accepts HH:MM or HH:MM:SS and returns HH:MM.
func ParseTime(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{TimeLayout, "15:04:05", "3:04"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return "", fmt.Errorf("%w: invalid time %q, use HH:MM", ErrInvalidRequest, value)
}

// OnlyDigits strips everything but 0-9.
func OnlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
