package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// db is the subset of pgxpool.Pool the repository needs.
type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRepository stores clinic data in postgres.
type PostgresRepository struct {
	db db
}

// NewPostgresRepository creates a repository backed by a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("clinic: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB allows injecting a mock database for testing.
func NewPostgresRepositoryWithDB(db db) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const patientColumns = `id, name, email, phone, cpf, COALESCE(to_char(birth_date, 'YYYY-MM-DD'), ''), created_at`

func (r *PostgresRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("clinic: list patients: %w", err)
	}
	defer rows.Close()

	out := make([]Patient, 0)
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CPF, &p.BirthDate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("clinic: scan patient: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: list patients: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	var p Patient
	err := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CPF, &p.BirthDate, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinic: get patient %d: %w", id, ErrPatientNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get patient %d: %w", id, err)
	}
	return &p, nil
}

func (r *PostgresRepository) FindPatient(ctx context.Context, lookup PatientLookup) (*Patient, error) {
	email := strings.ToLower(strings.TrimSpace(lookup.Email))
	if email == "" && lookup.Digits == "" {
		return nil, ErrPatientNotFound
	}
	var p Patient
	err := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE ($1 <> '' AND lower(email) = $1)
		   OR ($2 <> '' AND (regexp_replace(phone, '\D', '', 'g') = $2 OR regexp_replace(cpf, '\D', '', 'g') = $2))
		ORDER BY id
		LIMIT 1
	`, email, lookup.Digits).Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CPF, &p.BirthDate, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: find patient: %w", err)
	}
	return &p, nil
}

// UpsertPatient relies on the partial unique index on patients.cpf; xmax is
// zero only on rows the statement inserted.
func (r *PostgresRepository) UpsertPatient(ctx context.Context, req PatientRequest) (*Patient, bool, error) {
	p := Patient{Name: req.Name, Email: req.Email, Phone: req.Phone, CPF: req.CPF, BirthDate: req.BirthDate}
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO patients (name, email, phone, cpf, birth_date)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::date)
		ON CONFLICT (cpf) WHERE cpf <> '' DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone, birth_date = EXCLUDED.birth_date
		RETURNING id, created_at, (xmax = 0)
	`, req.Name, req.Email, req.Phone, req.CPF, req.BirthDate).Scan(&p.ID, &p.CreatedAt, &created)
	if err != nil {
		return nil, false, fmt.Errorf("clinic: upsert patient: %w", err)
	}
	return &p, created, nil
}

func (r *PostgresRepository) UpdatePatient(ctx context.Context, id int64, req PatientRequest) (*Patient, error) {
	p := Patient{ID: id, Name: req.Name, Email: req.Email, Phone: req.Phone, CPF: req.CPF, BirthDate: req.BirthDate}
	err := r.db.QueryRow(ctx, `
		UPDATE patients
		SET name = $2, email = $3, phone = $4, cpf = $5, birth_date = NULLIF($6, '')::date
		WHERE id = $1
		RETURNING created_at
	`, id, req.Name, req.Email, req.Phone, req.CPF, req.BirthDate).Scan(&p.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("clinic: update patient %d: %w", id, ErrPatientNotFound)
	case isPgError(err, pgUniqueViolation):
		return nil, fmt.Errorf("clinic: update patient %d: %w", id, ErrDuplicatePatient)
	case err != nil:
		return nil, fmt.Errorf("clinic: update patient %d: %w", id, err)
	}
	return &p, nil
}

// DeletePatient leans on the appointments foreign key to refuse patients
// that still have history.
func (r *PostgresRepository) DeletePatient(ctx context.Context, id int64) error {
	n, err := execRowsAffected(ctx, r.db, `DELETE FROM patients WHERE id = $1`, id)
	switch {
	case isPgError(err, pgForeignKeyViolation):
		return fmt.Errorf("clinic: delete patient %d: %w", id, ErrPatientHasAppointments)
	case err != nil:
		return fmt.Errorf("clinic: delete patient %d: %w", id, err)
	case n == 0:
		return fmt.Errorf("clinic: delete patient %d: %w", id, ErrPatientNotFound)
	}
	return nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func (r *PostgresRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, specialty, email, phone FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("clinic: list doctors: %w", err)
	}
	defer rows.Close()

	out := make([]Doctor, 0)
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialty, &d.Email, &d.Phone); err != nil {
			return nil, fmt.Errorf("clinic: scan doctor: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: list doctors: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	var d Doctor
	err := r.db.QueryRow(ctx, `SELECT id, name, specialty, email, phone FROM doctors WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Specialty, &d.Email, &d.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinic: get doctor %d: %w", id, ErrDoctorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get doctor %d: %w", id, err)
	}
	return &d, nil
}

func (r *PostgresRepository) AvailableSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, error) {
	query := `
		SELECT s.id, s.doctor_id, d.name, d.specialty,
		       to_char(s.date, 'YYYY-MM-DD'), to_char(s.start_time, 'HH24:MI'), to_char(s.end_time, 'HH24:MI'),
		       s.is_available
		FROM schedules s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE s.is_available`
	var args []any
	if filter.Date != "" {
		args = append(args, filter.Date)
		query += fmt.Sprintf(" AND s.date = $%d::date", len(args))
	}
	if filter.DoctorID != 0 {
		args = append(args, filter.DoctorID)
		query += fmt.Sprintf(" AND s.doctor_id = $%d", len(args))
	}
	query += " ORDER BY s.date, s.start_time, s.doctor_id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clinic: available schedules: %w", err)
	}
	defer rows.Close()

	out := make([]Schedule, 0)
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.DoctorID, &s.DoctorName, &s.DoctorSpecialty, &s.Date, &s.StartTime, &s.EndTime, &s.IsAvailable); err != nil {
			return nil, fmt.Errorf("clinic: scan schedule: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: available schedules: %w", err)
	}
	return out, nil
}

const appointmentSelect = `
	SELECT a.id, a.patient_id, p.name, a.doctor_id, d.name, d.specialty,
	       to_char(a.appointment_date, 'YYYY-MM-DD'), to_char(a.appointment_time, 'HH24:MI'),
	       a.status, COALESCE(a.notes, ''), a.created_at
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id
	JOIN doctors d ON d.id = a.doctor_id`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.DoctorName, &a.DoctorSpecialty,
		&a.Date, &a.Time, &a.Status, &a.Notes, &a.CreatedAt)
	return a, err
}

func (r *PostgresRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.PatientID != 0 {
		args = append(args, filter.PatientID)
		clauses = append(clauses, fmt.Sprintf("a.patient_id = $%d", len(args)))
	}
	if filter.DoctorID != 0 {
		args = append(args, filter.DoctorID)
		clauses = append(clauses, fmt.Sprintf("a.doctor_id = $%d", len(args)))
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		clauses = append(clauses, fmt.Sprintf("a.appointment_date = $%d::date", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("a.status = $%d", len(args)))
	}
	query := appointmentSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clinic: list appointments: %w", err)
	}
	defer rows.Close()

	out := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("clinic: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: list appointments: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, appointmentSelect+" WHERE a.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinic: get appointment %d: %w", id, ErrAppointmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get appointment %d: %w", id, err)
	}
	return &a, nil
}

// CreateAppointment books the slot inside one transaction. The schedule row is
// locked so two concurrent bookings of the same slot cannot both succeed.
func (r *PostgresRepository) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("clinic: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt := Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Time:      req.Time,
		Status:    StatusScheduled,
		Notes:     req.Notes,
	}

	err = tx.QueryRow(ctx, `SELECT name FROM patients WHERE id = $1`, req.PatientID).Scan(&appt.PatientName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinic: create appointment: %w", ErrPatientNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: load patient: %w", err)
	}

	err = tx.QueryRow(ctx, `SELECT name, specialty FROM doctors WHERE id = $1`, req.DoctorID).Scan(&appt.DoctorName, &appt.DoctorSpecialty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinic: create appointment: %w", ErrDoctorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: load doctor: %w", err)
	}

	var scheduleID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM schedules
		WHERE doctor_id = $1 AND date = $2::date AND start_time = $3::time AND is_available
		FOR UPDATE
	`, req.DoctorID, req.Date, req.Time).Scan(&scheduleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinic: create appointment %s %s: %w", req.Date, req.Time, ErrSlotUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: lock schedule: %w", err)
	}

	if _, err := execRowsAffected(ctx, tx, `UPDATE schedules SET is_available = false WHERE id = $1`, scheduleID); err != nil {
		return nil, fmt.Errorf("clinic: reserve schedule: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, appointment_date, appointment_time, status, notes)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
		RETURNING id, created_at
	`, req.PatientID, req.DoctorID, req.Date, req.Time, StatusScheduled, req.Notes).Scan(&appt.ID, &appt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("clinic: insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("clinic: commit appointment: %w", err)
	}
	return &appt, nil
}

// CancelAppointment marks the appointment cancelled and frees its slot.
func (r *PostgresRepository) CancelAppointment(ctx context.Context, id int64) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("clinic: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := scanAppointment(tx.QueryRow(ctx, appointmentSelect+" WHERE a.id = $1 FOR UPDATE OF a", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinic: cancel appointment %d: %w", id, ErrAppointmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: load appointment %d: %w", id, err)
	}
	if a.Status == StatusCancelled {
		return nil, fmt.Errorf("clinic: cancel appointment %d: %w", id, ErrAlreadyCancelled)
	}

	if _, err := execRowsAffected(ctx, tx, `UPDATE appointments SET status = $2 WHERE id = $1`, id, StatusCancelled); err != nil {
		return nil, fmt.Errorf("clinic: cancel appointment %d: %w", id, err)
	}
	if _, err := execRowsAffected(ctx, tx, `
		UPDATE schedules SET is_available = true
		WHERE doctor_id = $1 AND date = $2::date AND start_time = $3::time
	`, a.DoctorID, a.Date, a.Time); err != nil {
		return nil, fmt.Errorf("clinic: release schedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("clinic: commit cancellation: %w", err)
	}
	a.Status = StatusCancelled
	return &a, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func execRowsAffected(ctx context.Context, e execer, sql string, args ...any) (int64, error) {
	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
