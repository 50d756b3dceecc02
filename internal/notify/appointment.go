package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

// AppointmentDetails is what a patient needs to know about a booking.
type AppointmentDetails struct {
	AppointmentID   int64
	PatientName     string
	PatientEmail    string
	DoctorName      string
	DoctorSpecialty string
	Date            string // YYYY-MM-DD
	Time            string // HH:MM
}

// AppointmentNotifier emails patients about their appointments.
type AppointmentNotifier struct {
	email  EmailSender
	logger *logging.Logger
}

// NewAppointmentNotifier sends through email; a nil sender turns every call
// into a no-op.
func NewAppointmentNotifier(email EmailSender, logger *logging.Logger) *AppointmentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentNotifier{email: email, logger: logger}
}

// AppointmentBooked sends the booking confirmation. Patients without an email
// address are skipped.
func (n *AppointmentNotifier) AppointmentBooked(ctx context.Context, d AppointmentDetails) error {
	if n == nil || n.email == nil {
		return nil
	}
	if strings.TrimSpace(d.PatientEmail) == "" {
		n.logger.Debug("notify: patient has no email, skipping confirmation", "appointment_id", d.AppointmentID)
		return nil
	}
	msg := EmailMessage{
		To:      d.PatientEmail,
		ToName:  d.PatientName,
		Subject: fmt.Sprintf("Consulta confirmada - %s", formatDate(d.Date)),
		Body:    confirmationText(d),
		HTML:    confirmationHTML(d),
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: appointment %d confirmation: %w", d.AppointmentID, err)
	}
	return nil
}

func confirmationText(d AppointmentDetails) string {
	var b strings.Builder
	b.WriteString("Consulta agendada com sucesso!\n\n")
	fmt.Fprintf(&b, "Paciente: %s\n", d.PatientName)
	fmt.Fprintf(&b, "Data: %s\n", formatDate(d.Date))
	fmt.Fprintf(&b, "Horário: %s\n", d.Time)
	fmt.Fprintf(&b, "Médico: %s\n", d.DoctorName)
	if d.DoctorSpecialty != "" {
		fmt.Fprintf(&b, "Especialidade: %s\n", d.DoctorSpecialty)
	}
	fmt.Fprintf(&b, "\nNúmero da consulta: %d\n", d.AppointmentID)
	b.WriteString("Agradecemos a confiança!")
	return b.String()
}

func confirmationHTML(d AppointmentDetails) string {
	row := func(label, value string) string {
		if value == "" {
			return ""
		}
		return fmt.Sprintf(`<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			label, html.EscapeString(value))
	}
	return `<h2>Consulta agendada com sucesso!</h2><table>` +
		row("Paciente", d.PatientName) +
		row("Data", formatDate(d.Date)) +
		row("Horário", d.Time) +
		row("Médico", d.DoctorName) +
		row("Especialidade", d.DoctorSpecialty) +
		row("Número da consulta", fmt.Sprint(d.AppointmentID)) +
		`</table><p>Agradecemos a confiança!</p>`
}

// formatDate renders YYYY-MM-DD as DD/MM/YYYY, leaving anything else as is.
func formatDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("02/01/2006")
}
