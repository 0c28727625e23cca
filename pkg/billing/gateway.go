package billing

import (
	"context"
	"time"

	"github.com/everkeep/everkeep/pkg/money"
)

// Gateway is the payment processor boundary. The gateway is the system of
// record for money movement; the ledger only reacts to what it reports.
// Core code never imports a provider SDK directly, which keeps the state
// machine and the sweeps testable against a fake.
type Gateway interface {
	// CreateSubscription starts a recurring billing relationship for a
	// gateway customer on a catalog price. Metadata is round-tripped back
	// on every webhook for that subscription. The returned reference is
	// the gateway's identifier for the created object; the durable
	// subscription id may arrive later via webhook depending on provider.
	CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (string, error)

	// CancelAtPeriodEnd schedules cancellation at the end of the current
	// paid period. Entitlement is unaffected until the gateway reports the
	// deletion via webhook.
	CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error

	// RemoveScheduledCancellation withdraws a pending cancel-at-period-end
	// before it takes effect, so billing continues uninterrupted.
	RemoveScheduledCancellation(ctx context.Context, gatewaySubscriptionID string) error

	// CreateCheckout creates a hosted checkout session, used by the
	// billing-takeover workflow to bind a new payer's payment method.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)

	// ParseWebhook verifies the signature of a raw webhook payload and
	// returns the normalized event. Returns ErrSignatureVerification for
	// forged or tampered payloads; verification always happens before any
	// payload field is trusted.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)

	// RetrieveBalance fetches the connected account's balance from the
	// gateway. Providers without gateway-side balances get ErrUnsupported,
	// in which case callers fall back to the local commission ledger.
	RetrieveBalance(ctx context.Context, connectedAccountID string) (money.Amount, error)
}

// CheckoutRequest contains data needed to create a hosted checkout session.
type CheckoutRequest struct {
	PriceID    string            // Gateway's price identifier
	CustomerID string            // Internal account ID, echoed back in webhooks
	Email      string            // Optional billing email
	SuccessURL string            // Redirect after successful payment
	Metadata   map[string]string // Round-tripped on resulting webhooks
}

// Checkout represents a hosted checkout session.
type Checkout struct {
	URL       string    // Hosted checkout URL
	SessionID string    // Gateway's session identifier
	ExpiresAt time.Time // Link expiration
}
