package billing

import (
	"time"
)

// EventType is the normalized payment event type. Provider implementations
// map their specific webhook names onto these.
type EventType string

const (
	EventChargeSucceeded     EventType = "charge_succeeded"
	EventChargeFailed        EventType = "charge_failed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"

	// EventUnknown marks gateway event types the ledger does not process.
	// They are acknowledged and ignored upstream, never rejected, so the
	// gateway does not retry them forever.
	EventUnknown EventType = "unknown"
)

// MetadataTakeoverID is the metadata key tagging a checkout (and the
// webhooks it produces) as belonging to a billing-takeover attempt.
const MetadataTakeoverID = "takeover_id"

// Event is a normalized, signature-verified gateway notification.
// The gateway event ID is globally unique and drives deduplication.
type Event struct {
	ID                    string    // Gateway event id, unique per delivery content
	Type                  EventType // Normalized type
	ProviderEvent         string    // Original provider event name
	GatewaySubscriptionID string    // Gateway's subscription identifier
	OccurredAt            time.Time // Gateway-reported occurrence time (monotonic per subscription)

	GrossCents int64  // Payment amount for charge events, 0 otherwise
	FeeCents   int64  // Gateway processing fee already withheld from gross
	Currency   string // ISO 4217

	PeriodEnd         *time.Time // Current billing period end, when reported
	CancelAtPeriodEnd bool       // Gateway-side scheduled cancellation flag

	Metadata map[string]string // Custom data round-tripped from checkout
	Raw      map[string]any    // Full provider payload for diagnostics
}

// IsTakeover reports whether the event belongs to a takeover checkout.
func (e *Event) IsTakeover() bool {
	return e.Metadata[MetadataTakeoverID] != ""
}
