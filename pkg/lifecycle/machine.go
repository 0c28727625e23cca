package lifecycle

import (
	"fmt"
	"time"
)

// DefaultGraceWindow is how long entitlement survives after the transition
// into grace period. 180 days rather than "6 calendar months" keeps the
// deadline arithmetic deterministic and testable.
const DefaultGraceWindow = 180 * 24 * time.Hour

// Effect is a side effect the caller must apply alongside a state change.
// The machine itself is pure; effects are applied by the ingestion pipeline
// inside its ledger transaction.
type Effect string

const (
	EffectPostCommission         Effect = "post_commission"
	EffectClearGraceDeadline     Effect = "clear_grace_deadline"
	EffectSetGraceDeadline       Effect = "set_grace_deadline"
	EffectClearAccountSuspension Effect = "clear_account_suspension"
	EffectResetFailureCount      Effect = "reset_failure_count"
	EffectIncrementFailureCount  Effect = "increment_failure_count"
	EffectSetCancelAtPeriodEnd   Effect = "set_cancel_at_period_end"
	EffectClearCancelAtPeriodEnd Effect = "clear_cancel_at_period_end"
	EffectSyncPeriodEnd          Effect = "sync_period_end"
)

// Event is a validated input to Decide: the normalized type plus the
// gateway-reported occurrence time used for out-of-order rejection.
type Event struct {
	Type       EventType
	OccurredAt time.Time
}

// Snapshot is the subset of a ledger row the machine needs to decide a
// transition. It carries no identity; Decide never touches storage.
type Snapshot struct {
	State               State
	CancelAtPeriodEnd   bool
	ConsecutiveFailures int32
	LastEventAt         time.Time
}

// Decision is the outcome of a transition: the next state plus the effects
// the caller must apply in the same transaction.
type Decision struct {
	Next    State
	Effects []Effect
}

// Has reports whether the decision carries the given effect.
func (d Decision) Has(e Effect) bool {
	for _, ef := range d.Effects {
		if ef == e {
			return true
		}
	}
	return false
}

type stateEvent struct {
	state State
	event EventType
}

type transition struct {
	next    State
	effects []Effect
}

// transitions is the explicit (state, event) -> (state, effects) table.
// Every legal move in the lifecycle lives here; anything absent is either
// rejected (known event, no row) or ignored (unknown event).
var transitions = map[stateEvent]transition{
	// A confirmed payment activates from every recoverable state and posts
	// a commission. Re-entry from suspended additionally clears the
	// account-level suspension set by the overdue sweep.
	{StateTrialing, EventChargeSucceeded}:    {StateActive, []Effect{EffectClearGraceDeadline, EffectResetFailureCount, EffectPostCommission}},
	{StateActive, EventChargeSucceeded}:      {StateActive, []Effect{EffectResetFailureCount, EffectPostCommission}},
	{StatePastDue, EventChargeSucceeded}:     {StateActive, []Effect{EffectClearGraceDeadline, EffectResetFailureCount, EffectPostCommission}},
	{StateGracePeriod, EventChargeSucceeded}: {StateActive, []Effect{EffectClearGraceDeadline, EffectResetFailureCount, EffectPostCommission}},
	{StateSuspended, EventChargeSucceeded}:   {StateActive, []Effect{EffectClearGraceDeadline, EffectResetFailureCount, EffectClearAccountSuspension, EffectPostCommission}},
	// Renewals can still land while a cancellation is pending; entitlement
	// runs to period end either way.
	{StateCancelPending, EventChargeSucceeded}: {StateCancelPending, []Effect{EffectResetFailureCount, EffectPostCommission}},

	// First failure parks the row in past_due; the second consecutive
	// failure opens the grace window. Further failures inside grace do not
	// extend the deadline.
	{StateActive, EventChargeFailed}:      {StatePastDue, []Effect{EffectIncrementFailureCount}},
	{StateTrialing, EventChargeFailed}:    {StatePastDue, []Effect{EffectIncrementFailureCount}},
	{StatePastDue, EventChargeFailed}:     {StateGracePeriod, []Effect{EffectIncrementFailureCount, EffectSetGraceDeadline}},
	{StateGracePeriod, EventChargeFailed}: {StateGracePeriod, []Effect{EffectIncrementFailureCount}},

	// User-requested cancellation keeps entitlement until period end.
	{StateTrialing, EventCancelRequested}:    {StateCancelPending, []Effect{EffectSetCancelAtPeriodEnd}},
	{StateActive, EventCancelRequested}:      {StateCancelPending, []Effect{EffectSetCancelAtPeriodEnd}},
	{StatePastDue, EventCancelRequested}:     {StateCancelPending, []Effect{EffectSetCancelAtPeriodEnd}},
	{StateGracePeriod, EventCancelRequested}: {StateCancelPending, []Effect{EffectSetCancelAtPeriodEnd}},

	{StateCancelPending, EventResumeRequested}: {StateActive, []Effect{EffectClearCancelAtPeriodEnd}},

	// Period-end deletion after a pending cancellation opens the grace
	// window instead of dropping entitlement on the spot. A gateway-side
	// deletion with no cancellation on file is a hard cancel.
	{StateCancelPending, EventSubscriptionDeleted}: {StateGracePeriod, []Effect{EffectSetGraceDeadline}},
	{StateTrialing, EventSubscriptionDeleted}:      {StateCancelled, nil},
	{StateActive, EventSubscriptionDeleted}:        {StateCancelled, nil},
	{StatePastDue, EventSubscriptionDeleted}:       {StateCancelled, nil},
	{StateGracePeriod, EventSubscriptionDeleted}:   {StateGracePeriod, nil},
	{StateSuspended, EventSubscriptionDeleted}:     {StateCancelled, nil},

	// Gateway metadata sync; no entitlement change.
	{StateTrialing, EventSubscriptionUpdated}:      {StateTrialing, []Effect{EffectSyncPeriodEnd}},
	{StateActive, EventSubscriptionUpdated}:        {StateActive, []Effect{EffectSyncPeriodEnd}},
	{StatePastDue, EventSubscriptionUpdated}:       {StatePastDue, []Effect{EffectSyncPeriodEnd}},
	{StateGracePeriod, EventSubscriptionUpdated}:   {StateGracePeriod, []Effect{EffectSyncPeriodEnd}},
	{StateCancelPending, EventSubscriptionUpdated}: {StateCancelPending, []Effect{EffectSyncPeriodEnd}},
}

// Machine decides lifecycle transitions. It is a pure value; GraceWindow is
// the only knob and defaults to DefaultGraceWindow.
type Machine struct {
	GraceWindow time.Duration
}

// NewMachine returns a Machine with the default grace window.
func NewMachine() Machine {
	return Machine{GraceWindow: DefaultGraceWindow}
}

// Decide evaluates one event against a ledger row snapshot.
//
// Events not newer than the row's last applied event are rejected with
// ErrStaleEvent: gateway delivery order is not guaranteed, and a stale
// "past_due" must never overwrite a newer "active". Unknown event types
// return ErrUnknownEvent; known events with no legal transition from the
// current state return ErrTransitionNotAllowed. Callers acknowledge all
// three without retry.
func (m Machine) Decide(snap Snapshot, ev Event) (Decision, error) {
	if !ev.Type.Known() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	if !ev.OccurredAt.After(snap.LastEventAt) {
		return Decision{}, fmt.Errorf("%w: event at %s, row at %s",
			ErrStaleEvent, ev.OccurredAt.Format(time.RFC3339), snap.LastEventAt.Format(time.RFC3339))
	}

	t, ok := transitions[stateEvent{snap.State, ev.Type}]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s in state %s", ErrTransitionNotAllowed, ev.Type, snap.State)
	}

	return Decision{Next: t.next, Effects: t.effects}, nil
}

// GraceDeadline computes the entitlement deadline for a grace period opened
// at the given instant.
func (m Machine) GraceDeadline(at time.Time) time.Time {
	window := m.GraceWindow
	if window <= 0 {
		window = DefaultGraceWindow
	}
	return at.Add(window)
}
