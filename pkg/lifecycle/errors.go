package lifecycle

import "errors"

var (
	// ErrStaleEvent means the event is older than the last event already
	// applied to the ledger row. Dropped, never retried.
	ErrStaleEvent = errors.New("lifecycle: event older than last applied event")

	// ErrUnknownEvent means the event type is not part of the lifecycle at
	// all. Logged and ignored; never blocks processing.
	ErrUnknownEvent = errors.New("lifecycle: unknown event type")

	// ErrTransitionNotAllowed means the event is known but has no legal
	// transition from the row's current state.
	ErrTransitionNotAllowed = errors.New("lifecycle: transition not allowed")
)
