package clinic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_AvailableSchedulesFilters(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	all, err := repo.AvailableSchedules(ctx, ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.Equal(t, "Dr. Maria Silva", all[0].DoctorName)

	byDate, err := repo.AvailableSchedules(ctx, ScheduleFilter{Date: "2024-01-15"})
	require.NoError(t, err)
	assert.Len(t, byDate, 4)

	both, err := repo.AvailableSchedules(ctx, ScheduleFilter{Date: "2024-01-15", DoctorID: 2})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "Dermatologia", both[0].DoctorSpecialty)
}

func TestMemoryRepository_BookingConsumesSlot(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()
	req := CreateAppointmentRequest{PatientID: 1, DoctorID: 1, Date: "2024-01-15", Time: "09:00"}

	appt, err := repo.CreateAppointment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), appt.ID)
	assert.Equal(t, "Pedro Oliveira", appt.PatientName)
	assert.Equal(t, StatusScheduled, appt.Status)

	_, err = repo.CreateAppointment(ctx, req)
	assert.ErrorIs(t, err, ErrSlotUnavailable, "slot can only be booked once")

	left, _ := repo.AvailableSchedules(ctx, ScheduleFilter{DoctorID: 1})
	assert.Len(t, left, 2)
}

func TestMemoryRepository_CreateRejectsUnknownParties(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	_, err := repo.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: 42, DoctorID: 1, Date: "2024-01-15", Time: "09:00"})
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = repo.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: 1, DoctorID: 42, Date: "2024-01-15", Time: "09:00"})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestMemoryRepository_CancelReleasesSlot(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	appt, err := repo.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: 2, DoctorID: 4, Date: "2024-01-17", Time: "15:00"})
	require.NoError(t, err)

	cancelled, err := repo.CancelAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	slots, _ := repo.AvailableSchedules(ctx, ScheduleFilter{DoctorID: 4})
	assert.Len(t, slots, 1, "slot is bookable again")

	_, err = repo.CancelAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	_, err = repo.CancelAppointment(ctx, 999)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemoryRepository_FindPatient(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	p, err := repo.FindPatient(ctx, PatientLookup{Email: "LUCIA@email.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.ID)

	p, err = repo.FindPatient(ctx, PatientLookup{Digits: "11988880003"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.ID)

	p, err = repo.FindPatient(ctx, PatientLookup{Digits: "12345678904"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.ID)

	_, err = repo.FindPatient(ctx, PatientLookup{Digits: "000"})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestMemoryRepository_ListAppointmentsFilters(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	_, err := repo.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: 1, DoctorID: 1, Date: "2024-01-15", Time: "10:00"})
	require.NoError(t, err)
	second, err := repo.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: 2, DoctorID: 2, Date: "2024-01-16", Time: "11:00"})
	require.NoError(t, err)
	_, err = repo.CancelAppointment(ctx, second.ID)
	require.NoError(t, err)

	scheduled, err := repo.ListAppointments(ctx, AppointmentFilter{Status: StatusScheduled})
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "Dr. Maria Silva", scheduled[0].DoctorName)

	forPatient, err := repo.ListAppointments(ctx, AppointmentFilter{PatientID: 2})
	require.NoError(t, err)
	assert.Len(t, forPatient, 1)
}

func TestMemoryRepository_UpsertPatientByCPF(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	p, created, err := repo.UpsertPatient(ctx, PatientRequest{Name: "Joana Prado", Email: "joana@email.com", CPF: "987.654.321-00"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), p.ID, "ids continue after the seed")

	p, created, err = repo.UpsertPatient(ctx, PatientRequest{Name: "Joana Prado Lima", Email: "joana@email.com", CPF: "987.654.321-00"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(5), p.ID)

	stored, err := repo.GetPatient(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Joana Prado Lima", stored.Name)

	patients, _ := repo.ListPatients(ctx)
	assert.Len(t, patients, 5)
}

func TestMemoryRepository_UpdatePatientRejectsTakenCPF(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	_, err := repo.UpdatePatient(ctx, 1, PatientRequest{Name: "Pedro Oliveira", CPF: "123.456.789-02"})
	assert.ErrorIs(t, err, ErrDuplicatePatient)

	p, err := repo.UpdatePatient(ctx, 1, PatientRequest{Name: "Pedro H. Oliveira", CPF: "123.456.789-01"})
	require.NoError(t, err)
	assert.Equal(t, "Pedro H. Oliveira", p.Name)

	_, err = repo.UpdatePatient(ctx, 99, PatientRequest{Name: "Ninguém", CPF: "111.111.111-11"})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestMemoryRepository_DeletePatient(t *testing.T) {
	repo := NewMemoryRepository(DefaultSeed())
	ctx := context.Background()

	_, err := repo.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: 1, DoctorID: 1, Date: "2024-01-15", Time: "09:00"})
	require.NoError(t, err)

	assert.ErrorIs(t, repo.DeletePatient(ctx, 1), ErrPatientHasAppointments)
	require.NoError(t, repo.DeletePatient(ctx, 2))
	assert.ErrorIs(t, repo.DeletePatient(ctx, 2), ErrPatientNotFound)

	_, err = repo.GetPatient(ctx, 2)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}
