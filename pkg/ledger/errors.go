package ledger

import "errors"

var (
	ErrAccountNotFound      = errors.New("ledger: account not found")
	ErrSubscriptionNotFound = errors.New("ledger: subscription not found")

	// ErrSubscriptionExists guards the one-non-terminal-subscription-per-
	// (subscriber, gallery) invariant.
	ErrSubscriptionExists = errors.New("ledger: non-terminal subscription already exists for subscriber and gallery")

	// ErrDuplicateEvent means the gateway event id was already recorded;
	// the delivery is a replay and must be acknowledged as success.
	ErrDuplicateEvent = errors.New("ledger: payment event already recorded")

	// ErrDuplicateCommission means a commission record already exists for
	// the payment event; posting is at-most-once per payment.
	ErrDuplicateCommission = errors.New("ledger: commission already posted for payment event")

	// ErrConflict means an optimistic-concurrency precondition failed:
	// the row changed under the caller. Takeover completions surface it
	// as "already claimed".
	ErrConflict = errors.New("ledger: conditional update precondition failed")

	// ErrInvariantViolation marks should-never-happen state. The current
	// transaction is aborted and the triggering event left unprocessed so
	// a human can investigate before it is reprocessed.
	ErrInvariantViolation = errors.New("ledger: invariant violation")
)
