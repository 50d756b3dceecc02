package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/clinic-assistant/internal/clinic"
	"github.com/wolfman30/clinic-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

// AnonymousUser stands in for requests without a user_id.
const AnonymousUser = "anonymous"

const defaultRosterTTL = time.Minute

var assistantTracer = otel.Tracer("clinic.internal.assistant")

// Collaborator is what the assistant needs from the clinic. The availability
// gateway satisfies it, so schedule lookups are served from the cache.
type Collaborator interface {
	ListDoctors(ctx context.Context) ([]clinic.Doctor, error)
	AvailableSchedules(ctx context.Context, filter clinic.ScheduleFilter) ([]clinic.Schedule, error)
	FindAppointments(ctx context.Context, filter clinic.AppointmentFilter) ([]clinic.Appointment, error)
	CreateAppointment(ctx context.Context, req clinic.CreateAppointmentRequest) (*clinic.Appointment, error)
	CancelAppointment(ctx context.Context, id int64) (*clinic.Appointment, error)
	PaymentInfo(ctx context.Context) (clinic.PaymentInfo, error)
	PatientIDForUser(ctx context.Context, userID string) (int64, error)
	CreatePatient(ctx context.Context, req clinic.PatientRequest) (*clinic.Patient, bool, error)
}

// Options configures an Assistant. Zero values fall back to an in-memory
// session store, DefaultSessionTimeout, UTC, a one minute roster refresh,
// logging.Default and time.Now. Metrics may be nil.
type Options struct {
	Sessions       SessionStore
	SessionTimeout time.Duration
	Location       *time.Location
	RosterTTL      time.Duration
	Logger         *logging.Logger
	Metrics        *metrics.AssistantMetrics
	Now            func() time.Time
}

// Assistant turns one message into one Response. It never returns an error:
// every failure is encoded in the response.
type Assistant struct {
	clinic    Collaborator
	resolver  *Resolver
	loc       *time.Location
	rosterTTL time.Duration
	logger    *logging.Logger
	metrics   *metrics.AssistantMetrics
	now       func() time.Time

	// mu guards classifier and rosterAt only; roster fetches run outside it.
	mu         sync.Mutex
	classifier *Classifier
	rosterAt   time.Time
	roster     singleflight.Group
}

// New builds an Assistant over collab. It panics when collab is nil.
func New(collab Collaborator, opts Options) *Assistant {
	if collab == nil {
		panic("assistant: collaborator required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RosterTTL <= 0 {
		opts.RosterTTL = defaultRosterTTL
	}
	return &Assistant{
		clinic: collab,
		resolver: NewResolver(opts.Sessions, ResolverOptions{
			Timeout: opts.SessionTimeout,
			Logger:  opts.Logger,
			Now:     opts.Now,
		}),
		loc:       opts.Location,
		rosterTTL: opts.RosterTTL,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// Session exposes the stored dialog state of a user.
func (a *Assistant) Session(ctx context.Context, userID string) (SessionState, error) {
	return a.resolver.Session(ctx, userID)
}

// Handle answers one message for userID; an empty userID is AnonymousUser.
// Failures are reported through the Response, never as an error.
func (a *Assistant) Handle(ctx context.Context, message, userID string) Response {
	started := time.Now()
	message = strings.TrimSpace(message)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = AnonymousUser
	}

	var resp Response
	defer func() {
		a.metrics.ObserveAction(resp.ActionTaken, resp.Success)
		a.metrics.ObserveLatency(time.Since(started).Seconds())
	}()

	if message == "" {
		resp = respond(false, ActionInvalidMessage, invalidMessage, nil)
		return resp
	}

	ctx, span := assistantTracer.Start(ctx, "assistant.handle")
	defer span.End()

	classifier := a.classifierFor(ctx)
	var intent Intent
	resp, err := a.resolver.Turn(ctx, userID, message, classifier, func(ctx context.Context, plan Plan) (Response, SessionState) {
		intent = plan.Intent
		a.metrics.ObserveIntent(string(plan.Intent))
		span.SetAttributes(attribute.String("assistant.intent", string(plan.Intent)), attribute.String("assistant.step", string(plan.Step)))
		return a.execute(ctx, userID, plan)
	})
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("assistant turn not completed", "user_id", userID, "error", err)
		if resp.ActionTaken == "" {
			resp = respond(false, ActionServiceUnavailable, unavailableMessage, nil)
		}
		return resp
	}

	a.logger.Info("assistant message handled",
		"user_id", userID,
		"intent", intent,
		"action", resp.ActionTaken,
		"success", resp.Success,
	)
	return resp
}

// classifierFor returns a classifier over the current doctor roster. The
// roster is refreshed at most once per rosterTTL. While a refresh is in
// flight the previous classifier keeps serving; only the very first turns
// wait for the roster.
func (a *Assistant) classifierFor(ctx context.Context) *Classifier {
	a.mu.Lock()
	current := a.classifier
	fresh := current != nil && a.now().Sub(a.rosterAt) < a.rosterTTL
	a.mu.Unlock()
	if fresh {
		return current
	}

	done := a.roster.DoChan("roster", func() (any, error) {
		return a.refreshRoster(context.WithoutCancel(ctx))
	})
	if current != nil {
		return current
	}
	select {
	case res := <-done:
		if c, ok := res.Val.(*Classifier); ok && res.Err == nil {
			return c
		}
	case <-ctx.Done():
	}
	return NewClassifier(nil, a.now, a.loc)
}

func (a *Assistant) refreshRoster(ctx context.Context) (*Classifier, error) {
	doctors, err := a.clinic.ListDoctors(ctx)
	if err != nil {
		a.logger.Warn("doctor roster refresh failed", "error", err)
		return nil, err
	}
	roster := make([]DoctorRef, 0, len(doctors))
	for _, d := range doctors {
		roster = append(roster, DoctorRef{ID: d.ID, Name: d.Name})
	}
	c := NewClassifier(roster, a.now, a.loc)
	a.mu.Lock()
	a.classifier = c
	a.rosterAt = a.now()
	a.mu.Unlock()
	return c, nil
}

func (a *Assistant) execute(ctx context.Context, userID string, plan Plan) (Response, SessionState) {
	switch plan.Step {
	case StepGreet:
		return respond(true, ActionGreeting, greetingMessage, nil), plan.Next
	case StepAvailability:
		return a.availability(ctx, plan)
	case StepPayment:
		return a.payment(ctx, plan)
	case StepAskSlot:
		if plan.Reprompt {
			return respond(true, ActionUnknown, repromptMessage(plan.Ask, plan.Slots), map[string]any{"pending_slot": plan.Ask}), plan.Next
		}
		data := map[string]any{"pending_slot": plan.Ask, "slots": plan.Slots}
		return respond(true, awaitingAction(plan.Ask), slotPrompt(plan.Ask, plan.Slots), data), plan.Next
	case StepBook:
		return a.book(ctx, userID, plan)
	case StepCancel:
		return a.cancel(ctx, userID, plan)
	}
	return respond(true, ActionUnknown, unknownMessage, nil), plan.Next
}

// resumePrompt re-asks for the pending slot after a side question answered
// mid-booking.
func resumePrompt(message string, next SessionState) string {
	if next.Stage != StageCollecting {
		return message
	}
	return message + "\n\n" + slotPrompt(next.Pending, next.Slots)
}

func (a *Assistant) availability(ctx context.Context, plan Plan) (Response, SessionState) {
	filter := clinic.ScheduleFilter{}
	if plan.Slots.Date != nil {
		filter.Date = *plan.Slots.Date
	}
	if plan.Slots.Doctor != nil {
		filter.DoctorID = plan.Slots.Doctor.ID
	}
	schedules, err := a.clinic.AvailableSchedules(ctx, filter)
	if err != nil {
		return a.unavailable("available schedules", err), plan.Next
	}
	data := map[string]any{"schedules": schedules, "total_count": len(schedules)}
	return respond(true, ActionAvailabilityListed, resumePrompt(scheduleSummary(schedules), plan.Next), data), plan.Next
}

func (a *Assistant) payment(ctx context.Context, plan Plan) (Response, SessionState) {
	info, err := a.clinic.PaymentInfo(ctx)
	if err != nil {
		return a.unavailable("payment info", err), plan.Next
	}
	return respond(true, ActionPaymentInfo, resumePrompt(paymentMessage(info), plan.Next), info), plan.Next
}

func (a *Assistant) book(ctx context.Context, userID string, plan Plan) (Response, SessionState) {
	idle := idleState(userID)
	slots := plan.Slots

	var registered *clinic.Patient
	var patientID int64
	if slots.registrationComplete() {
		p, _, err := a.clinic.CreatePatient(ctx, slots.Patient.request())
		if err != nil {
			return a.unavailable("register patient", err), idle
		}
		registered, patientID = p, p.ID
	} else {
		id, err := a.clinic.PatientIDForUser(ctx, userID)
		if errors.Is(err, clinic.ErrPatientNotFound) {
			return startRegistration(userID, slots)
		}
		if err != nil {
			return a.unavailable("resolve patient", err), idle
		}
		patientID = id
	}

	appt, err := a.clinic.CreateAppointment(ctx, clinic.CreateAppointmentRequest{
		PatientID: patientID,
		DoctorID:  slots.Doctor.ID,
		Date:      *slots.Date,
		Time:      *slots.Time,
		Notes:     "Agendado pelo assistente virtual",
	})
	switch {
	case err == nil && registered != nil:
		return respond(true, ActionAppointmentBooked, registeredMessage(registered, appt), appt), plan.Next
	case err == nil:
		return respond(true, ActionAppointmentBooked, bookedMessage(appt), appt), plan.Next
	case errors.Is(err, clinic.ErrSlotUnavailable):
		alternatives := a.alternatives(ctx, slots)
		next := SessionState{UserID: userID, Stage: StageCollecting, Pending: SlotTime, Slots: slots.without(SlotTime)}
		data := map[string]any{
			"doctor":         slots.Doctor,
			"date":           *slots.Date,
			"requested_time": *slots.Time,
			"alternatives":   alternatives,
		}
		return respond(false, ActionSlotUnavailable, slotUnavailableMessage(slots, alternatives), data), next
	case errors.Is(err, clinic.ErrDoctorNotFound):
		next := SessionState{UserID: userID, Stage: StageCollecting, Pending: SlotDoctor, Slots: slots.without(SlotDoctor)}
		return respond(false, ActionDoctorNotFound, doctorNotFoundMessage, nil), next
	case errors.Is(err, clinic.ErrPatientNotFound):
		return respond(false, ActionPatientNotFound, patientNotFoundMessage, nil), idle
	}
	return a.unavailable("create appointment", err), idle
}

// startRegistration keeps the chosen doctor, date and time and begins
// collecting the details of a new patient.
func startRegistration(userID string, slots Slots) (Response, SessionState) {
	slots.Patient = &PatientDetails{}
	next := SessionState{UserID: userID, Stage: StageCollecting, Pending: SlotPatientName, Slots: slots}
	data := map[string]any{"pending_slot": SlotPatientName, "slots": slots}
	return respond(true, ActionAwaitingPatientName, registrationIntro+slotPrompt(SlotPatientName, slots), data), next
}

// alternatives lists the open start times for the requested doctor and day.
func (a *Assistant) alternatives(ctx context.Context, slots Slots) []string {
	schedules, err := a.clinic.AvailableSchedules(ctx, clinic.ScheduleFilter{Date: *slots.Date, DoctorID: slots.Doctor.ID})
	if err != nil {
		a.logger.Warn("alternative times lookup failed", "doctor_id", slots.Doctor.ID, "date", *slots.Date, "error", err)
		return []string{}
	}
	times := make([]string, 0, len(schedules))
	for _, s := range schedules {
		if s.StartTime != *slots.Time {
			times = append(times, s.StartTime)
		}
	}
	return times
}

func (a *Assistant) cancel(ctx context.Context, userID string, plan Plan) (Response, SessionState) {
	idle := idleState(userID)
	slots := plan.Slots

	patientID, err := a.clinic.PatientIDForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, clinic.ErrPatientNotFound) {
			return respond(false, ActionPatientNotFound, patientNotFoundMessage, nil), idle
		}
		return a.unavailable("resolve patient", err), idle
	}

	switch {
	case slots.AppointmentID != nil:
		appts, err := a.clinic.FindAppointments(ctx, clinic.AppointmentFilter{PatientID: patientID})
		if err != nil {
			return a.unavailable("find appointments", err), idle
		}
		for _, appt := range appts {
			if appt.ID != *slots.AppointmentID {
				continue
			}
			if appt.Status == clinic.StatusCancelled {
				return respond(false, ActionAlreadyCancelled, alreadyCancelledMessage, appt), idle
			}
			return a.cancelOne(ctx, appt.ID), idle
		}
		return respond(false, ActionAppointmentNotFound, appointmentNotFoundMessage, nil), idle

	case slots.Doctor != nil && slots.Date != nil:
		appts, err := a.clinic.FindAppointments(ctx, clinic.AppointmentFilter{
			PatientID: patientID,
			DoctorID:  slots.Doctor.ID,
			Date:      *slots.Date,
			Status:    clinic.StatusScheduled,
		})
		if err != nil {
			return a.unavailable("find appointments", err), idle
		}
		switch len(appts) {
		case 0:
			return respond(false, ActionAppointmentNotFound, appointmentNotFoundMessage, nil), idle
		case 1:
			return a.cancelOne(ctx, appts[0].ID), idle
		}
		return respond(true, ActionCancelNeedsDetails, cancelDetailsMessage, map[string]any{"appointments": appts}), idle
	}

	appts, err := a.clinic.FindAppointments(ctx, clinic.AppointmentFilter{PatientID: patientID, Status: clinic.StatusScheduled})
	if err != nil {
		return a.unavailable("find appointments", err), idle
	}
	return respond(true, ActionCancelNeedsDetails, cancelDetailsMessage, map[string]any{"appointments": appts}), idle
}

func (a *Assistant) cancelOne(ctx context.Context, id int64) Response {
	appt, err := a.clinic.CancelAppointment(ctx, id)
	switch {
	case err == nil:
		return respond(true, ActionAppointmentCancelled, cancelledMessage(appt), appt)
	case errors.Is(err, clinic.ErrAlreadyCancelled):
		return respond(false, ActionAlreadyCancelled, alreadyCancelledMessage, nil)
	case errors.Is(err, clinic.ErrAppointmentNotFound):
		return respond(false, ActionAppointmentNotFound, appointmentNotFoundMessage, nil)
	}
	return a.unavailable("cancel appointment", err)
}

func (a *Assistant) unavailable(op string, err error) Response {
	a.logger.Error("assistant collaborator call failed", "op", op, "error", err)
	return respond(false, ActionServiceUnavailable, unavailableMessage, nil)
}
