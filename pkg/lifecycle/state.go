package lifecycle

// State is a subscription lifecycle state in the entitlement ledger.
type State string

const (
	StateTrialing      State = "trialing"
	StateActive        State = "active"
	StatePastDue       State = "past_due"
	StateGracePeriod   State = "grace_period"
	StateSuspended     State = "suspended"
	StateCancelPending State = "cancel_pending"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether the state can never be left again.
// Suspended is deliberately not terminal: a successful new payment
// reactivates a suspended subscription.
func (s State) Terminal() bool {
	return s == StateCancelled
}

// Entitled reports whether the subscriber currently retains access to the
// deliverable. Grace period and cancel-pending keep entitlement alive.
func (s State) Entitled() bool {
	switch s {
	case StateTrialing, StateActive, StatePastDue, StateGracePeriod, StateCancelPending:
		return true
	default:
		return false
	}
}

// EventType identifies a validated input to the state machine: either a
// gateway-confirmed payment notification or a user-initiated action.
type EventType string

const (
	EventChargeSucceeded     EventType = "charge_succeeded"
	EventChargeFailed        EventType = "charge_failed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventCancelRequested     EventType = "cancel_requested"
	EventResumeRequested     EventType = "resume_requested"
)

// knownEventTypes distinguishes "no transition from this state" from
// "event type we have never heard of"; the latter is logged and ignored.
var knownEventTypes = map[EventType]struct{}{
	EventChargeSucceeded:     {},
	EventChargeFailed:        {},
	EventSubscriptionUpdated: {},
	EventSubscriptionDeleted: {},
	EventCancelRequested:     {},
	EventResumeRequested:     {},
}

// Known reports whether the event type participates in the transition table.
func (e EventType) Known() bool {
	_, ok := knownEventTypes[e]
	return ok
}
