// Package assistant implements the rule-based scheduling assistant: a
// deterministic pt-BR intent classifier, a per-user dialog resolver and the
// orchestrator that turns one message into one response.
package assistant

import "github.com/wolfman30/clinic-assistant/internal/clinic"

// Intent is the classified purpose of a message.
type Intent string

const (
	IntentGreeting          Intent = "greeting"
	IntentQueryAvailability Intent = "query_availability"
	IntentQueryPayment      Intent = "query_payment"
	IntentBookAppointment   Intent = "book_appointment"
	IntentCancelAppointment Intent = "cancel_appointment"
	IntentUnknown           Intent = "unknown"
)

// DoctorRef is a roster entry matched in text.
type DoctorRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PatientDetails are collected when a user books without a patient record.
type PatientDetails struct {
	Name      string `json:"name,omitempty"`
	CPF       string `json:"cpf,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	BirthDate string `json:"birth_date,omitempty"` // YYYY-MM-DD
}

func (p *PatientDetails) request() clinic.PatientRequest {
	return clinic.PatientRequest{Name: p.Name, CPF: p.CPF, Email: p.Email, Phone: p.Phone, BirthDate: p.BirthDate}
}

// Slots are the parameters extracted from text. Every field is optional.
// Patient is non-nil only while a registration is under way.
type Slots struct {
	Date          *string         `json:"date,omitempty"` // YYYY-MM-DD
	Time          *string         `json:"time,omitempty"` // HH:MM
	Doctor        *DoctorRef      `json:"doctor,omitempty"`
	AppointmentID *int64          `json:"appointment_id,omitempty"`
	Patient       *PatientDetails `json:"patient,omitempty"`
}

// Merge returns s with every field set in o copied over it.
func (s Slots) Merge(o Slots) Slots {
	if o.Date != nil {
		s.Date = o.Date
	}
	if o.Time != nil {
		s.Time = o.Time
	}
	if o.Doctor != nil {
		s.Doctor = o.Doctor
	}
	if o.AppointmentID != nil {
		s.AppointmentID = o.AppointmentID
	}
	if o.Patient != nil {
		merged := PatientDetails{}
		if s.Patient != nil {
			merged = *s.Patient
		}
		for _, f := range patientFields {
			if v := *f.get(o.Patient); v != "" {
				*f.get(&merged) = v
			}
		}
		s.Patient = &merged
	}
	return s
}

// IsEmpty reports whether no slot is set.
func (s Slots) IsEmpty() bool {
	return s.Date == nil && s.Time == nil && s.Doctor == nil && s.AppointmentID == nil && s.Patient == nil
}

// Classification is the classifier's verdict for one message.
type Classification struct {
	Intent Intent
	Slots  Slots
}

// SlotName identifies one of the booking slots the resolver collects.
type SlotName string

const (
	SlotNone   SlotName = ""
	SlotDoctor SlotName = "doctor"
	SlotDate   SlotName = "date"
	SlotTime   SlotName = "time"

	SlotPatientName SlotName = "patient_name"
	SlotCPF         SlotName = "cpf"
	SlotEmail       SlotName = "email"
	SlotPhone       SlotName = "phone"
	SlotBirthDate   SlotName = "birth_date"
)

// bookingOrder is the order in which missing booking slots are asked for.
var bookingOrder = []SlotName{SlotDoctor, SlotDate, SlotTime}

type patientField struct {
	slot SlotName
	get  func(*PatientDetails) *string
}

// patientFields lists the registration slots in the order they are asked for.
var patientFields = []patientField{
	{SlotPatientName, func(p *PatientDetails) *string { return &p.Name }},
	{SlotCPF, func(p *PatientDetails) *string { return &p.CPF }},
	{SlotEmail, func(p *PatientDetails) *string { return &p.Email }},
	{SlotPhone, func(p *PatientDetails) *string { return &p.Phone }},
	{SlotBirthDate, func(p *PatientDetails) *string { return &p.BirthDate }},
}

func isRegistrationSlot(name SlotName) bool {
	for _, f := range patientFields {
		if f.slot == name {
			return true
		}
	}
	return false
}

// missingSlot returns the first booking slot not yet present, then the first
// missing registration detail when a registration is under way.
func (s Slots) missingSlot() SlotName {
	for _, name := range bookingOrder {
		if !s.has(name) {
			return name
		}
	}
	if s.Patient == nil {
		return SlotNone
	}
	for _, f := range patientFields {
		if *f.get(s.Patient) == "" {
			return f.slot
		}
	}
	return SlotNone
}

func (s Slots) has(name SlotName) bool {
	switch name {
	case SlotDoctor:
		return s.Doctor != nil
	case SlotDate:
		return s.Date != nil
	case SlotTime:
		return s.Time != nil
	}
	if s.Patient == nil {
		return false
	}
	for _, f := range patientFields {
		if f.slot == name {
			return *f.get(s.Patient) != ""
		}
	}
	return false
}

func (s Slots) without(name SlotName) Slots {
	switch name {
	case SlotDoctor:
		s.Doctor = nil
	case SlotDate:
		s.Date = nil
	case SlotTime:
		s.Time = nil
	}
	return s
}

// registrationComplete reports whether every registration detail is present.
func (s Slots) registrationComplete() bool {
	if s.Patient == nil {
		return false
	}
	for _, f := range patientFields {
		if *f.get(s.Patient) == "" {
			return false
		}
	}
	return true
}

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }
