package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the ledger. The dedup table and the
// subscription row are the only contended resources; every event's mutations
// happen inside one InTx call so a crash can never leave a half-applied
// event.
type Store interface {
	// InTx runs fn inside a single transaction. Returning an error rolls
	// everything back, including the idempotency insert, so the event can
	// be safely redelivered.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateAccount(ctx context.Context, acct *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	// CreateSubscription enforces at most one non-terminal subscription
	// per (subscriber, gallery) pair, returning ErrSubscriptionExists on
	// violation.
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error)

	// ListDeactivatableAccounts returns up to limit subscriber accounts
	// whose grace deadline has passed and that are still active.
	ListDeactivatableAccounts(ctx context.Context, now time.Time, limit int) ([]Account, error)

	// DeactivateAccount conditionally flips an account to deactivated.
	// Returns false without error when the precondition no longer holds
	// (already deactivated, deadline cleared by a payment, etc.), which
	// makes sweep re-runs side-effect free.
	DeactivateAccount(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// ListOverdueProviders returns up to limit active provider accounts
	// whose overdue marker is at or before cutoff.
	ListOverdueProviders(ctx context.Context, cutoff time.Time, limit int) ([]Account, error)

	// SuspendProvider conditionally flips a provider to suspended.
	// Same re-run semantics as DeactivateAccount.
	SuspendProvider(ctx context.Context, id uuid.UUID, now time.Time, cutoff time.Time) (bool, error)

	// SumProviderCommission aggregates posted provider shares in one
	// currency; backs the provider balance endpoint when the gateway
	// exposes no balance API.
	SumProviderCommission(ctx context.Context, providerID uuid.UUID, currency string) (int64, error)
}

// Tx is the transactional surface used while applying one event or
// completing one takeover.
type Tx interface {
	// InsertPaymentEvent appends to the immutable payment event log.
	// Returns ErrDuplicateEvent when the gateway event id was already
	// recorded; that is the idempotency guard.
	InsertPaymentEvent(ctx context.Context, ev *PaymentEvent) error

	// GetSubscriptionByGatewayID loads the row for update; the Postgres
	// implementation locks it for the rest of the transaction.
	GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error)

	// UpdateSubscription persists the row only if its LastEventAt still
	// matches expectedLastEventAt, returning ErrConflict otherwise.
	UpdateSubscription(ctx context.Context, sub *Subscription, expectedLastEventAt time.Time) error

	// InsertCommissionRecord posts a commission split. Returns
	// ErrDuplicateCommission if one already exists for the payment event.
	InsertCommissionRecord(ctx context.Context, rec *CommissionRecord) error

	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	// ClearAccountSuspension lifts an account-level suspension and the
	// access-suspended flag; used by the payment re-entry transition.
	ClearAccountSuspension(ctx context.Context, id uuid.UUID) error

	// SetAccountGraceDeadline mirrors a subscription's grace window onto
	// the account so the deactivation sweep can find it. A nil deadline
	// clears the marker.
	SetAccountGraceDeadline(ctx context.Context, id uuid.UUID, deadline *time.Time) error

	// MarkProviderOverdue sets the overdue marker if not already set;
	// ClearProviderOverdue removes it on payment success.
	MarkProviderOverdue(ctx context.Context, id uuid.UUID, since time.Time) error
	ClearProviderOverdue(ctx context.Context, id uuid.UUID) error

	ResetPaymentFailures(ctx context.Context, id uuid.UUID) error
	IncrementPaymentFailures(ctx context.Context, id uuid.UUID) error

	// SetBillingPayer atomically claims the payer pointer. The update
	// succeeds only if the current pointer still equals expectedPrev;
	// a lost race returns ErrConflict, which is how exactly one of two
	// concurrent takeover completions wins.
	SetBillingPayer(ctx context.Context, accountID uuid.UUID, expectedPrev *uuid.UUID, newPayer uuid.UUID) error

	// TransferOwnership moves ownership metadata for full-primary
	// takeovers, preserving the original owner for audit.
	TransferOwnership(ctx context.Context, accountID, newOwner uuid.UUID) error

	// ClearAccessSuspension clears the account's access_suspended flag
	// without touching its status.
	ClearAccessSuspension(ctx context.Context, accountID uuid.UUID) error

	InsertTakeoverRecord(ctx context.Context, rec *TakeoverRecord) error
}
