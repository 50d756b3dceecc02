package clinic

import "context"

// Repository persists clinic data. CreateAppointment and CancelAppointment
// must flip the matching schedule slot atomically with the appointment row.
//
// UpsertPatient is keyed by CPF: a request whose CPF matches an existing
// patient updates that row and reports created=false.
type Repository interface {
	ListPatients(ctx context.Context) ([]Patient, error)
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	FindPatient(ctx context.Context, lookup PatientLookup) (*Patient, error)
	UpsertPatient(ctx context.Context, req PatientRequest) (p *Patient, created bool, err error)
	UpdatePatient(ctx context.Context, id int64, req PatientRequest) (*Patient, error)
	DeletePatient(ctx context.Context, id int64) error
	ListDoctors(ctx context.Context) ([]Doctor, error)
	GetDoctor(ctx context.Context, id int64) (*Doctor, error)
	AvailableSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error)
	CancelAppointment(ctx context.Context, id int64) (*Appointment, error)
}
