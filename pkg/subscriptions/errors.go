package subscriptions

import "errors"

var (
	// ErrCancelNotAllowed means the subscription's current state has no
	// cancellation arc (already cancelled, or suspended).
	ErrCancelNotAllowed = errors.New("subscription cannot be cancelled in its current state")
	// ErrResumeNotAllowed means there is no pending cancellation to
	// withdraw.
	ErrResumeNotAllowed = errors.New("subscription has no pending cancellation to resume")
)
