package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

// DefaultSessionTimeout resets collecting sessions that saw no message for
// this long.
const DefaultSessionTimeout = 15 * time.Minute

// Step is what the orchestrator must do for a turn.
type Step string

const (
	StepGreet        Step = "greet"
	StepAvailability Step = "availability"
	StepPayment      Step = "payment"
	StepAskSlot      Step = "ask_slot"
	StepBook         Step = "book"
	StepCancel       Step = "cancel"
	StepUnknown      Step = "unknown"
)

// Plan is the resolver's decision for one message. Next is the state that
// will be persisted when the executor accepts it unchanged.
type Plan struct {
	Intent   Intent
	Step     Step
	Slots    Slots
	Ask      SlotName
	Reprompt bool
	// Abandoned is set when the message ended an unfinished booking.
	Abandoned bool
	Next      SessionState
}

// Executor carries out a plan and returns the response together with the
// state to persist for the user.
type Executor func(ctx context.Context, plan Plan) (Response, SessionState)

// ResolverOptions tunes a Resolver. A zero Timeout means DefaultSessionTimeout.
type ResolverOptions struct {
	Timeout time.Duration
	Logger  *logging.Logger
	Now     func() time.Time
}

// Resolver owns the per-user dialog state machine. Each turn runs under the
// user's lock and writes the session at most once, after the executor ran.
type Resolver struct {
	store   SessionStore
	locks   *KeyedLock
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// NewResolver builds a resolver over store, which defaults to an in-memory
// store when nil.
func NewResolver(store SessionStore, opts ResolverOptions) *Resolver {
	if store == nil {
		store = NewMemorySessionStore()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSessionTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		store:   store,
		locks:   NewKeyedLock(),
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// Turn resolves one message for userID. The session is only written when ctx
// is still live after exec returns; otherwise the previous state stays.
func (r *Resolver) Turn(ctx context.Context, userID, text string, classifier *Classifier, exec Executor) (Response, error) {
	release, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return Response{}, fmt.Errorf("assistant: acquire session lock: %w", err)
	}
	defer release()

	now := r.now()
	state, ok, err := r.store.Load(ctx, userID)
	if err != nil {
		r.logger.Warn("session load failed, starting fresh", "user_id", userID, "error", err)
		ok = false
	}
	if !ok || state.Stage != StageCollecting {
		state = idleState(userID).withVersion(state.Version)
	}
	if state.expired(now, r.timeout) {
		r.logger.Debug("session expired", "user_id", userID, "pending", state.Pending, "updated_at", state.UpdatedAt)
		state = idleState(userID).withVersion(state.Version)
	}

	plan := r.plan(text, state, classifier)
	resp, next := exec(ctx, plan)

	if err := ctx.Err(); err != nil {
		return resp, fmt.Errorf("assistant: turn aborted: %w", err)
	}
	next.UserID = userID
	next.UpdatedAt = now
	next.Version = state.Version + 1
	if err := r.persist(ctx, next); err != nil {
		r.logger.Warn("session save failed", "user_id", userID, "stage", next.Stage, "error", err)
	}
	return resp, nil
}

func (r *Resolver) persist(ctx context.Context, state SessionState) error {
	if state.Stage != StageCollecting {
		return r.store.Delete(ctx, state.UserID)
	}
	return r.store.Save(ctx, state)
}

// Session returns the stored state for userID, idle when there is none.
func (r *Resolver) Session(ctx context.Context, userID string) (SessionState, error) {
	state, ok, err := r.store.Load(ctx, userID)
	if err != nil {
		return SessionState{}, err
	}
	if !ok {
		return idleState(userID), nil
	}
	return state, nil
}

func (s SessionState) withVersion(v int64) SessionState {
	s.Version = v
	return s
}

func (r *Resolver) plan(text string, state SessionState, c *Classifier) Plan {
	if state.Stage == StageCollecting && state.Pending != SlotNone {
		return planCollecting(text, state, c)
	}
	return planFresh(c.Classify(text), state.UserID)
}

// planFresh handles a message with no booking in progress.
func planFresh(cls Classification, userID string) Plan {
	idle := idleState(userID)
	switch cls.Intent {
	case IntentGreeting:
		return Plan{Intent: cls.Intent, Step: StepGreet, Next: idle}
	case IntentQueryAvailability:
		return Plan{Intent: cls.Intent, Step: StepAvailability, Slots: cls.Slots, Next: idle}
	case IntentQueryPayment:
		return Plan{Intent: cls.Intent, Step: StepPayment, Next: idle}
	case IntentBookAppointment:
		return planBooking(cls.Intent, cls.Slots, userID)
	case IntentCancelAppointment:
		return Plan{Intent: cls.Intent, Step: StepCancel, Slots: cls.Slots, Next: idle}
	}
	return Plan{Intent: IntentUnknown, Step: StepUnknown, Next: idle}
}

// planBooking asks for the first missing slot, or books when none is missing.
func planBooking(intent Intent, slots Slots, userID string) Plan {
	slots.AppointmentID = nil
	if missing := slots.missingSlot(); missing != SlotNone {
		return Plan{
			Intent: intent,
			Step:   StepAskSlot,
			Slots:  slots,
			Ask:    missing,
			Next:   SessionState{UserID: userID, Stage: StageCollecting, Pending: missing, Slots: slots},
		}
	}
	return Plan{
		Intent: intent,
		Step:   StepBook,
		Slots:  slots,
		Next:   SessionState{UserID: userID, Stage: StageCompleted, Slots: slots},
	}
}

// planCollecting answers a message sent while a slot is pending. Registration
// answers are taken only for the detail asked, so a birth date never
// overwrites the booking date.
func planCollecting(text string, state SessionState, c *Classifier) Plan {
	registering := isRegistrationSlot(state.Pending)
	carried := func() Slots {
		if registering {
			return state.Slots
		}
		return state.Slots.Merge(c.ExtractSlots(text))
	}
	if value, ok := c.ExtractSlot(text, state.Pending); ok {
		return planBooking(IntentBookAppointment, carried().Merge(value), state.UserID)
	}

	cls := c.Classify(text)
	switch cls.Intent {
	case IntentBookAppointment:
		return planBooking(cls.Intent, state.Slots.Merge(cls.Slots), state.UserID)
	case IntentCancelAppointment, IntentGreeting:
		p := planFresh(cls, state.UserID)
		p.Abandoned = true
		return p
	case IntentQueryAvailability, IntentQueryPayment:
		p := planFresh(cls, state.UserID)
		p.Next = state
		return p
	}

	// Unrecognized reply: keep whatever slots it carried and ask again.
	p := planBooking(IntentUnknown, carried(), state.UserID)
	if p.Step == StepAskSlot && p.Ask == state.Pending {
		p.Reprompt = true
	}
	return p
}
