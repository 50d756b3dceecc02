package clinic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Seed is the initial content of a MemoryRepository.
type Seed struct {
	Patients  []Patient
	Doctors   []Doctor
	Schedules []Schedule
}

// DefaultSeed mirrors the demo data shipped in the SQL migrations.
func DefaultSeed() Seed {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Seed{
		Doctors: []Doctor{
			{ID: 1, Name: "Dr. Maria Silva", Specialty: "Cardiologia", Email: "maria.silva@clinic.com", Phone: "(11) 99999-0001"},
			{ID: 2, Name: "Dr. João Santos", Specialty: "Dermatologia", Email: "joao.santos@clinic.com", Phone: "(11) 99999-0002"},
			{ID: 3, Name: "Dr. Ana Costa", Specialty: "Pediatria", Email: "ana.costa@clinic.com", Phone: "(11) 99999-0003"},
			{ID: 4, Name: "Dr. Carlos Lima", Specialty: "Ortopedia", Email: "carlos.lima@clinic.com", Phone: "(11) 99999-0004"},
		},
		Patients: []Patient{
			{ID: 1, Name: "Pedro Oliveira", Email: "pedro@email.com", Phone: "(11) 98888-0001", CPF: "123.456.789-01", BirthDate: "1985-03-15", CreatedAt: created},
			{ID: 2, Name: "Lucia Fernandes", Email: "lucia@email.com", Phone: "(11) 98888-0002", CPF: "123.456.789-02", BirthDate: "1990-07-22", CreatedAt: created},
			{ID: 3, Name: "Roberto Alves", Email: "roberto@email.com", Phone: "(11) 98888-0003", CPF: "123.456.789-03", BirthDate: "1978-11-08", CreatedAt: created},
			{ID: 4, Name: "Fernanda Costa", Email: "fernanda@email.com", Phone: "(11) 98888-0004", CPF: "123.456.789-04", BirthDate: "1995-01-30", CreatedAt: created},
		},
		Schedules: []Schedule{
			{ID: 1, DoctorID: 1, Date: "2024-01-15", StartTime: "09:00", EndTime: "10:00", IsAvailable: true},
			{ID: 2, DoctorID: 1, Date: "2024-01-15", StartTime: "10:00", EndTime: "11:00", IsAvailable: true},
			{ID: 3, DoctorID: 1, Date: "2024-01-15", StartTime: "14:00", EndTime: "15:00", IsAvailable: true},
			{ID: 4, DoctorID: 2, Date: "2024-01-15", StartTime: "09:00", EndTime: "10:00", IsAvailable: true},
			{ID: 5, DoctorID: 2, Date: "2024-01-16", StartTime: "11:00", EndTime: "12:00", IsAvailable: true},
			{ID: 6, DoctorID: 3, Date: "2024-01-16", StartTime: "08:00", EndTime: "09:00", IsAvailable: true},
			{ID: 7, DoctorID: 4, Date: "2024-01-17", StartTime: "15:00", EndTime: "16:00", IsAvailable: true},
		},
	}
}

// MemoryRepository is the in-process Repository used when no DATABASE_URL is
// configured and by tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	patients     map[int64]Patient
	doctors      map[int64]Doctor
	schedules    []Schedule
	appointments []Appointment
	nextApptID   int64
	nextPatient  int64
	now          func() time.Time
}

// NewMemoryRepository copies seed; later writes never touch the caller's slices.
// Patient ids continue after the highest seeded id.
func NewMemoryRepository(seed Seed) *MemoryRepository {
	r := &MemoryRepository{
		patients:    make(map[int64]Patient, len(seed.Patients)),
		doctors:     make(map[int64]Doctor, len(seed.Doctors)),
		schedules:   append([]Schedule(nil), seed.Schedules...),
		nextApptID:  1,
		nextPatient: 1,
		now:         time.Now,
	}
	for _, p := range seed.Patients {
		r.patients[p.ID] = p
		if p.ID >= r.nextPatient {
			r.nextPatient = p.ID + 1
		}
	}
	for _, d := range seed.Doctors {
		r.doctors[d.ID] = d
	}
	return r
}

func (r *MemoryRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Patient, 0, len(r.patients))
	for _, p := range r.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, fmt.Errorf("clinic: get patient %d: %w", id, ErrPatientNotFound)
	}
	return &p, nil
}

func (r *MemoryRepository) FindPatient(ctx context.Context, lookup PatientLookup) (*Patient, error) {
	patients, _ := r.ListPatients(ctx)
	email := strings.ToLower(strings.TrimSpace(lookup.Email))
	for _, p := range patients {
		switch {
		case email != "" && strings.EqualFold(p.Email, email):
			return &p, nil
		case lookup.Digits != "" && (OnlyDigits(p.Phone) == lookup.Digits || OnlyDigits(p.CPF) == lookup.Digits):
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (r *MemoryRepository) UpsertPatient(ctx context.Context, req PatientRequest) (*Patient, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.patientByCPF(req.CPF); ok {
		p := applyPatient(r.patients[id], req)
		r.patients[id] = p
		return &p, false, nil
	}
	p := applyPatient(Patient{ID: r.nextPatient, CreatedAt: r.now().UTC()}, req)
	r.nextPatient++
	r.patients[p.ID] = p
	return &p, true, nil
}

func (r *MemoryRepository) UpdatePatient(ctx context.Context, id int64, req PatientRequest) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.patients[id]
	if !ok {
		return nil, fmt.Errorf("clinic: update patient %d: %w", id, ErrPatientNotFound)
	}
	if other, ok := r.patientByCPF(req.CPF); ok && other != id {
		return nil, fmt.Errorf("clinic: update patient %d: %w", id, ErrDuplicatePatient)
	}
	p := applyPatient(current, req)
	r.patients[id] = p
	return &p, nil
}

func (r *MemoryRepository) DeletePatient(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[id]; !ok {
		return fmt.Errorf("clinic: delete patient %d: %w", id, ErrPatientNotFound)
	}
	for _, a := range r.appointments {
		if a.PatientID == id {
			return fmt.Errorf("clinic: delete patient %d: %w", id, ErrPatientHasAppointments)
		}
	}
	delete(r.patients, id)
	return nil
}

// caller holds r.mu
func (r *MemoryRepository) patientByCPF(cpf string) (int64, bool) {
	digits := OnlyDigits(cpf)
	if digits == "" {
		return 0, false
	}
	for id, p := range r.patients {
		if OnlyDigits(p.CPF) == digits {
			return id, true
		}
	}
	return 0, false
}

func applyPatient(p Patient, req PatientRequest) Patient {
	p.Name = req.Name
	p.Email = req.Email
	p.Phone = req.Phone
	p.CPF = req.CPF
	p.BirthDate = req.BirthDate
	return p
}

func (r *MemoryRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, fmt.Errorf("clinic: get doctor %d: %w", id, ErrDoctorNotFound)
	}
	return &d, nil
}

func (r *MemoryRepository) AvailableSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schedule, 0)
	for _, s := range r.schedules {
		if !s.IsAvailable {
			continue
		}
		if filter.Date != "" && s.Date != filter.Date {
			continue
		}
		if filter.DoctorID != 0 && s.DoctorID != filter.DoctorID {
			continue
		}
		out = append(out, r.decorateSchedule(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].DoctorID < out[j].DoctorID
	})
	return out, nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Appointment, 0)
	for _, a := range r.appointments {
		if filter.PatientID != 0 && a.PatientID != filter.PatientID {
			continue
		}
		if filter.DoctorID != 0 && a.DoctorID != filter.DoctorID {
			continue
		}
		if filter.Date != "" && a.Date != filter.Date {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, r.decorateAppointment(a))
	}
	return out, nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.appointments {
		if a.ID == id {
			out := r.decorateAppointment(a)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("clinic: get appointment %d: %w", id, ErrAppointmentNotFound)
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[req.PatientID]; !ok {
		return nil, fmt.Errorf("clinic: create appointment: %w", ErrPatientNotFound)
	}
	if _, ok := r.doctors[req.DoctorID]; !ok {
		return nil, fmt.Errorf("clinic: create appointment: %w", ErrDoctorNotFound)
	}
	idx := -1
	for i, s := range r.schedules {
		if s.DoctorID == req.DoctorID && s.Date == req.Date && s.StartTime == req.Time && s.IsAvailable {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("clinic: create appointment %s %s: %w", req.Date, req.Time, ErrSlotUnavailable)
	}
	r.schedules[idx].IsAvailable = false

	appt := Appointment{
		ID:        r.nextApptID,
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Time:      req.Time,
		Status:    StatusScheduled,
		Notes:     req.Notes,
		CreatedAt: r.now().UTC(),
	}
	r.nextApptID++
	r.appointments = append(r.appointments, appt)
	out := r.decorateAppointment(appt)
	return &out, nil
}

func (r *MemoryRepository) CancelAppointment(ctx context.Context, id int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.appointments {
		a := &r.appointments[i]
		if a.ID != id {
			continue
		}
		if a.Status == StatusCancelled {
			return nil, fmt.Errorf("clinic: cancel appointment %d: %w", id, ErrAlreadyCancelled)
		}
		a.Status = StatusCancelled
		for j := range r.schedules {
			s := &r.schedules[j]
			if s.DoctorID == a.DoctorID && s.Date == a.Date && s.StartTime == a.Time {
				s.IsAvailable = true
			}
		}
		out := r.decorateAppointment(*a)
		return &out, nil
	}
	return nil, fmt.Errorf("clinic: cancel appointment %d: %w", id, ErrAppointmentNotFound)
}

// caller holds r.mu
func (r *MemoryRepository) decorateSchedule(s Schedule) Schedule {
	if d, ok := r.doctors[s.DoctorID]; ok {
		s.DoctorName = d.Name
		s.DoctorSpecialty = d.Specialty
	}
	return s
}

// caller holds r.mu
func (r *MemoryRepository) decorateAppointment(a Appointment) Appointment {
	if p, ok := r.patients[a.PatientID]; ok {
		a.PatientName = p.Name
	}
	if d, ok := r.doctors[a.DoctorID]; ok {
		a.DoctorName = d.Name
		a.DoctorSpecialty = d.Specialty
	}
	return a
}
