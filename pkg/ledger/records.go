package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/lifecycle"
)

// AccountKind distinguishes the two parties the ledger mediates between.
type AccountKind string

const (
	// KindProvider delivered a unit of work once and earns a recurring
	// commission share.
	KindProvider AccountKind = "provider"
	// KindSubscriber pays a recurring fee to retain access to that work.
	KindSubscriber AccountKind = "subscriber"
)

// AccountStatus is the account-level lifecycle, independent of any single
// subscription's state. Accounts are never hard-deleted.
type AccountStatus string

const (
	AccountActive      AccountStatus = "active"
	AccountDeactivated AccountStatus = "deactivated" // terminal; set by the grace-period sweep
	AccountSuspended   AccountStatus = "suspended"   // providers overdue 90+ days; cleared by payment re-entry
)

// Account is a provider or subscriber. Gateway identifiers bind it to the
// payment processor; the commission rate applies to providers only and is
// snapshotted onto each subscription at creation time.
type Account struct {
	ID                 uuid.UUID
	Kind               AccountKind
	Email              string
	GatewayCustomerID  string
	ConnectedAccountID string // providers only
	CommissionRateBps  int32  // providers only, 0..10000
	Status             AccountStatus

	// BillingPayerID points at the account currently responsible for
	// paying; nil means the account pays for itself. The takeover workflow
	// flips this pointer under a conditional update.
	BillingPayerID *uuid.UUID
	// OwnerID changes only on a full-ownership takeover;
	// OriginalOwnerID preserves the pre-takeover owner for audit.
	OwnerID         *uuid.UUID
	OriginalOwnerID *uuid.UUID

	AccessSuspended bool
	PaymentFailures int32

	// GraceDeadline mirrors the latest grace window opened by one of the
	// account's subscriptions; the deactivation sweep keys off it.
	GraceDeadline *time.Time
	// OverdueSince is set for providers on the first unresolved payment
	// failure and cleared on success; the suspension sweep keys off it.
	OverdueSince *time.Time

	DeactivatedAt *time.Time
	SuspendedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription is one entitlement instance: a subscriber's retained access
// to one gallery. A subscription may have no provider, in which case the
// platform keeps all revenue.
type Subscription struct {
	ID                    uuid.UUID
	SubscriberID          uuid.UUID
	ProviderID            *uuid.UUID
	GalleryID             uuid.UUID
	GatewaySubscriptionID string
	Status                lifecycle.State
	CancelAtPeriodEnd     bool
	CurrentPeriodEnd      *time.Time
	GraceDeadline         *time.Time

	// CommissionRateBps is captured from the provider at creation time.
	// Later changes to the provider's rate never alter an existing
	// subscription's split.
	CommissionRateBps int32

	ConsecutiveFailures int32

	// LastEventAt is the occurred-at of the newest gateway event applied
	// to this row. Older events are rejected, which makes out-of-order
	// webhook delivery harmless.
	LastEventAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot extracts the state-machine view of the row.
func (s *Subscription) Snapshot() lifecycle.Snapshot {
	return lifecycle.Snapshot{
		State:               s.Status,
		CancelAtPeriodEnd:   s.CancelAtPeriodEnd,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastEventAt:         s.LastEventAt,
	}
}

// PaymentEvent is an immutable, append-only record of one money-movement
// notification from the gateway. The unique GatewayEventID doubles as the
// deduplication key for at-least-once webhook delivery.
type PaymentEvent struct {
	ID             uuid.UUID
	GatewayEventID string
	SubscriptionID *uuid.UUID
	Type           string
	GrossCents     int64
	FeeCents       int64
	Currency       string
	OccurredAt     time.Time
	ReceivedAt     time.Time
}

// CommissionRecord is derived from exactly one PaymentEvent; the unique
// payment_event_id constraint enforces at-most-once commission posting.
type CommissionRecord struct {
	ID             uuid.UUID
	PaymentEventID uuid.UUID
	SubscriptionID uuid.UUID
	ProviderID     *uuid.UUID
	ProviderCents  int64
	PlatformCents  int64
	Currency       string
	CreatedAt      time.Time
}

// TakeoverType distinguishes a billing-only payer swap from a full
// ownership transfer.
type TakeoverType string

const (
	TakeoverBillingOnly TakeoverType = "billing_only"
	TakeoverFullPrimary TakeoverType = "full_primary"
)

// Valid reports whether t is a recognized takeover type.
func (t TakeoverType) Valid() bool {
	return t == TakeoverBillingOnly || t == TakeoverFullPrimary
}

// TakeoverRecord is the audit trail of a completed billing/ownership
// transfer. Written exactly once, after the gateway confirms the new
// payer's payment method.
type TakeoverRecord struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	PreviousPayerID *uuid.UUID
	NewPayerID      uuid.UUID
	Type            TakeoverType
	Reason          string
	CompletedAt     time.Time
}
