package clinic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-assistant/internal/notify"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.AppointmentDetails
	err   error
}

func (r *recordingNotifier) AppointmentBooked(ctx context.Context, d notify.AppointmentDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return r.err
}

func newTestService(n BookingNotifier) *Service {
	return NewService(NewMemoryRepository(DefaultSeed()), n, logging.Discard())
}

func TestService_CreateAppointmentNormalizesAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	svc := newTestService(n)

	appt, err := svc.CreateAppointment(context.Background(), CreateAppointmentRequest{
		PatientID: 1, DoctorID: 3, Date: " 2024-01-16 ", Time: "8:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "08:00", appt.Time)

	require.Len(t, n.calls, 1)
	assert.Equal(t, "pedro@email.com", n.calls[0].PatientEmail)
	assert.Equal(t, "Dr. Ana Costa", n.calls[0].DoctorName)
	assert.Equal(t, appt.ID, n.calls[0].AppointmentID)
}

func TestService_NotificationFailureDoesNotFailBooking(t *testing.T) {
	svc := newTestService(&recordingNotifier{err: errors.New("smtp down")})

	_, err := svc.CreateAppointment(context.Background(), CreateAppointmentRequest{
		PatientID: 1, DoctorID: 1, Date: "2024-01-15", Time: "14:00",
	})
	require.NoError(t, err)
}

func TestService_CreateAppointmentValidation(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	cases := []CreateAppointmentRequest{
		{DoctorID: 1, Date: "2024-01-15", Time: "09:00"},
		{PatientID: 1, Date: "2024-01-15", Time: "09:00"},
		{PatientID: 1, DoctorID: 1, Date: "15/01/2024", Time: "09:00"},
		{PatientID: 1, DoctorID: 1, Date: "2024-01-15", Time: "nove"},
	}
	for _, req := range cases {
		_, err := svc.CreateAppointment(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
}

func TestService_PatientIDForUser(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	tests := []struct {
		userID string
		want   int64
	}{
		{"1", 1},
		{"lucia@email.com", 2},
		{"(11) 98888-0003", 3},
		{"123.456.789-04", 4},
	}
	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			got, err := svc.PatientIDForUser(ctx, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, unknown := range []string{"", "anonymous", "999", "ghost@email.com"} {
		_, err := svc.PatientIDForUser(ctx, unknown)
		assert.ErrorIs(t, err, ErrPatientNotFound, unknown)
	}
}

func TestService_PaymentInfoIsACopy(t *testing.T) {
	svc := newTestService(nil)
	info, err := svc.PaymentInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200.0, info.Amount)
	assert.Contains(t, info.AcceptedMethods, "PIX")
	assert.Contains(t, info.InsuranceAccepted, "Unimed")

	info.AcceptedMethods[0] = "Cheque"
	again, _ := svc.PaymentInfo(context.Background())
	assert.Equal(t, "Dinheiro", again.AcceptedMethods[0])
}

func TestService_AvailableSchedulesRejectsBadDate(t *testing.T) {
	svc := newTestService(nil)
	_, err := svc.AvailableSchedules(context.Background(), ScheduleFilter{Date: "amanhã"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_CreatePatientNormalizes(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	p, created, err := svc.CreatePatient(ctx, PatientRequest{
		Name:      "  Joana   Prado ",
		Email:     "Joana@Email.com",
		Phone:     "(21) 97777-1234",
		CPF:       "98765432100",
		BirthDate: "03/04/1992",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Joana Prado", p.Name)
	assert.Equal(t, "joana@email.com", p.Email)
	assert.Equal(t, "987.654.321-00", p.CPF)
	assert.Equal(t, "1992-04-03", p.BirthDate)

	id, err := svc.PatientIDForUser(ctx, "joana@email.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)

	again, created, err := svc.CreatePatient(ctx, PatientRequest{Name: "Joana Prado", CPF: "987.654.321-00"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)
}

func TestService_CreatePatientValidation(t *testing.T) {
	svc := newTestService(nil)
	cases := map[string]PatientRequest{
		"missing name":   {CPF: "98765432100"},
		"short cpf":      {Name: "Joana", CPF: "1234"},
		"bad email":      {Name: "Joana", CPF: "98765432100", Email: "joana.email.com"},
		"bad birth date": {Name: "Joana", CPF: "98765432100", BirthDate: "31/02/1992"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.CreatePatient(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}
