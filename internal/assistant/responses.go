package assistant

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/clinic-assistant/internal/clinic"
)

// Response is the only shape /ai-agent ever returns.
type Response struct {
	Success          bool     `json:"success"`
	ActionTaken      string   `json:"action_taken"`
	Message          string   `json:"message"`
	Data             any      `json:"data"`
	SuggestedActions []string `json:"suggested_actions"`
}

const (
	ActionGreeting             = "greeting"
	ActionAvailabilityListed   = "availability_listed"
	ActionPaymentInfo          = "payment_info"
	ActionAwaitingDoctor       = "awaiting_doctor"
	ActionAwaitingDate         = "awaiting_date"
	ActionAwaitingTime         = "awaiting_time"
	ActionAwaitingPatientName  = "awaiting_patient_name"
	ActionAwaitingCPF          = "awaiting_cpf"
	ActionAwaitingEmail        = "awaiting_email"
	ActionAwaitingPhone        = "awaiting_phone"
	ActionAwaitingBirthDate    = "awaiting_birth_date"
	ActionAppointmentBooked    = "appointment_booked"
	ActionAppointmentCancelled = "appointment_cancelled"
	ActionCancelNeedsDetails   = "cancel_needs_details"
	ActionAppointmentNotFound  = "appointment_not_found"
	ActionAlreadyCancelled     = "already_cancelled"
	ActionSlotUnavailable      = "slot_unavailable"
	ActionPatientNotFound      = "patient_not_found"
	ActionDoctorNotFound       = "doctor_not_found"
	ActionUnknown              = "unknown"
	ActionServiceUnavailable   = "service_unavailable"
	ActionInvalidMessage       = "invalid_message"
)

// suggestedActions is keyed by action_taken.
var suggestedActions = map[string][]string{
	ActionGreeting:             {"book_appointment", "check_availability", "cancel_appointment", "payment_info"},
	ActionAvailabilityListed:   {"book_appointment", "payment_info"},
	ActionPaymentInfo:          {"book_appointment", "check_availability"},
	ActionAwaitingDoctor:       {"provide_doctor", "check_availability"},
	ActionAwaitingDate:         {"provide_date", "check_availability"},
	ActionAwaitingTime:         {"provide_time", "check_availability"},
	ActionAwaitingPatientName:  {"provide_name"},
	ActionAwaitingCPF:          {"provide_cpf"},
	ActionAwaitingEmail:        {"provide_email"},
	ActionAwaitingPhone:        {"provide_phone"},
	ActionAwaitingBirthDate:    {"provide_birth_date"},
	ActionAppointmentBooked:    {"payment_info", "cancel_appointment"},
	ActionAppointmentCancelled: {"book_appointment", "check_availability"},
	ActionCancelNeedsDetails:   {"provide_appointment_id", "provide_doctor_and_date"},
	ActionAppointmentNotFound:  {"provide_appointment_id", "book_appointment"},
	ActionAlreadyCancelled:     {"book_appointment", "check_availability"},
	ActionSlotUnavailable:      {"choose_another_time", "check_availability"},
	ActionPatientNotFound:      {"register_patient", "contact_clinic"},
	ActionDoctorNotFound:       {"provide_doctor", "check_availability"},
	ActionUnknown:              {"book_appointment", "check_availability", "cancel_appointment", "payment_info"},
	ActionServiceUnavailable:   {"try_again_later"},
	ActionInvalidMessage:       {"book_appointment", "check_availability", "payment_info"},
}

// SuggestedActions returns a copy of the table entry for action, never nil.
func SuggestedActions(action string) []string {
	return append([]string{}, suggestedActions[action]...)
}

func respond(success bool, action, message string, data any) Response {
	return Response{
		Success:          success,
		ActionTaken:      action,
		Message:          message,
		Data:             data,
		SuggestedActions: SuggestedActions(action),
	}
}

func awaitingAction(slot SlotName) string {
	switch slot {
	case SlotDoctor:
		return ActionAwaitingDoctor
	case SlotDate:
		return ActionAwaitingDate
	case SlotPatientName:
		return ActionAwaitingPatientName
	case SlotCPF:
		return ActionAwaitingCPF
	case SlotEmail:
		return ActionAwaitingEmail
	case SlotPhone:
		return ActionAwaitingPhone
	case SlotBirthDate:
		return ActionAwaitingBirthDate
	}
	return ActionAwaitingTime
}

const (
	greetingMessage = "Olá! Sou o assistente virtual da clínica.\n\n" +
		"Posso ajudar com:\n" +
		"• Agendar uma consulta\n" +
		"• Ver horários disponíveis\n" +
		"• Cancelar uma consulta\n" +
		"• Informações sobre valores e formas de pagamento"

	unknownMessage = "Desculpe, não entendi. Você pode pedir, por exemplo:\n" +
		"• \"Quero agendar uma consulta\"\n" +
		"• \"Quais horários estão disponíveis?\"\n" +
		"• \"Cancelar a consulta 12\"\n" +
		"• \"Quais as formas de pagamento?\""

	invalidMessage     = "Não recebi nenhuma mensagem. Como posso ajudar?"
	unavailableMessage = "Não consegui concluir sua solicitação agora. Por favor, tente novamente em instantes."

	patientNotFoundMessage     = "Não encontrei seu cadastro de paciente. Use o e-mail ou telefone cadastrado na clínica para se identificar."
	doctorNotFoundMessage      = "Não encontrei esse médico. Com qual médico você gostaria de agendar?"
	appointmentNotFoundMessage = "Não encontrei essa consulta entre os seus agendamentos."
	alreadyCancelledMessage    = "Essa consulta já estava cancelada."
	cancelDetailsMessage       = "Para cancelar, informe o número da consulta (ex.: \"cancelar consulta 12\") ou o médico e a data."

	registrationIntro = "Não encontrei seu cadastro de paciente. Para concluir o agendamento, preciso de alguns dados.\n\n"
)

func slotPrompt(slot SlotName, slots Slots) string {
	switch slot {
	case SlotDoctor:
		return "Com qual médico você gostaria de agendar?"
	case SlotDate:
		return fmt.Sprintf("Para qual data você gostaria de agendar com %s? (ex.: 15/01 ou amanhã)", slots.Doctor.Name)
	case SlotPatientName:
		return "Por favor, digite seu nome completo:"
	case SlotCPF:
		return fmt.Sprintf("%s, agora preciso do seu CPF. Digite apenas os números ou com pontos e traço:", slots.Patient.Name)
	case SlotEmail:
		return "Agora preciso do seu email:"
	case SlotPhone:
		return "Por favor, digite seu telefone (com DDD):"
	case SlotBirthDate:
		return "Por último, preciso da sua data de nascimento no formato DD/MM/AAAA:"
	default:
		return fmt.Sprintf("Qual horário você prefere no dia %s? (ex.: 09:00)", displayDate(*slots.Date))
	}
}

func repromptMessage(slot SlotName, slots Slots) string {
	return "Desculpe, não entendi. " + slotPrompt(slot, slots)
}

func scheduleSummary(schedules []clinic.Schedule) string {
	if len(schedules) == 0 {
		return "Nenhum horário disponível no momento. Por favor, entre em contato para verificar outras opções."
	}
	byDate := make(map[string][]clinic.Schedule)
	for _, s := range schedules {
		byDate[s.Date] = append(byDate[s.Date], s)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var b strings.Builder
	b.WriteString("Horários disponíveis:\n")
	for _, d := range dates {
		day := byDate[d]
		sort.Slice(day, func(i, j int) bool { return day[i].StartTime < day[j].StartTime })
		fmt.Fprintf(&b, "\n%s\n", displayDate(d))
		for _, s := range day {
			fmt.Fprintf(&b, "• %s - %s (%s)\n", s.StartTime, s.DoctorName, s.DoctorSpecialty)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func paymentMessage(info clinic.PaymentInfo) string {
	var b strings.Builder
	b.WriteString("Valores e formas de pagamento\n\n")
	fmt.Fprintf(&b, "Consulta particular: %s\n", info.ConsultationFees.Private)
	fmt.Fprintf(&b, "Convênio: %s\n", info.ConsultationFees.Insurance)
	b.WriteString("\nConvênios aceitos:\n")
	for _, ins := range info.InsuranceAccepted {
		fmt.Fprintf(&b, "• %s\n", ins)
	}
	b.WriteString("\nFormas de pagamento:\n")
	for _, m := range info.AcceptedMethods {
		fmt.Fprintf(&b, "• %s\n", m)
	}
	return strings.TrimRight(b.String(), "\n")
}

func registeredMessage(p *clinic.Patient, appt *clinic.Appointment) string {
	return fmt.Sprintf("Cadastro concluído, %s!\n\n", p.Name) + bookedMessage(appt)
}

func bookedMessage(appt *clinic.Appointment) string {
	return fmt.Sprintf("Consulta agendada com sucesso!\n\nMédico: %s\nData: %s\nHorário: %s\nNúmero da consulta: %d",
		appt.DoctorName, displayDate(appt.Date), appt.Time, appt.ID)
}

func cancelledMessage(appt *clinic.Appointment) string {
	return fmt.Sprintf("A consulta %d com %s em %s às %s foi cancelada.",
		appt.ID, appt.DoctorName, displayDate(appt.Date), appt.Time)
}

func slotUnavailableMessage(slots Slots, alternatives []string) string {
	msg := fmt.Sprintf("O horário %s do dia %s com %s não está mais disponível.",
		*slots.Time, displayDate(*slots.Date), slots.Doctor.Name)
	if len(alternatives) == 0 {
		return msg + " Não há outros horários livres nesse dia. Gostaria de escolher outra data?"
	}
	return msg + " Horários livres nesse dia: " + strings.Join(alternatives, ", ") + ". Qual você prefere?"
}

// displayDate renders YYYY-MM-DD as DD/MM/YYYY.
func displayDate(date string) string {
	t, err := time.Parse(clinic.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("02/01/2006")
}
