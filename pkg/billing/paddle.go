package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/everkeep/everkeep/pkg/money"
)

// PaddleConfig holds configuration for the Paddle gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway implements Gateway on the official Paddle SDK.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleGateway creates a Paddle-backed Gateway.
func NewPaddleGateway(config PaddleConfig) (*PaddleGateway, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, config.Environment)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

// CreateSubscription starts recurring billing for a customer on a catalog
// price. Paddle creates subscriptions through checkout transactions, so this
// returns the transaction ID; the durable subscription id arrives on the
// subscription.created webhook.
func (p *PaddleGateway) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (string, error) {
	if customerID == "" || priceID == "" {
		return "", fmt.Errorf("%w: customer and price IDs are required", ErrInvalidRequest)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	custom := paddle.CustomData{"customer_id": customerID}
	for k, v := range metadata {
		custom[k] = v
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	})
	if err != nil {
		return "", classifyGatewayErr("create transaction", err)
	}

	return transaction.ID, nil
}

// CancelAtPeriodEnd schedules the subscription to end at the close of the
// current billing period. Ledger state only changes when the resulting
// webhook confirms the deletion.
func (p *PaddleGateway) CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error {
	if gatewaySubscriptionID == "" {
		return fmt.Errorf("%w: subscription ID is required", ErrInvalidRequest)
	}

	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: gatewaySubscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		return classifyGatewayErr("cancel subscription", err)
	}
	return nil
}

// RemoveScheduledCancellation withdraws a pending cancellation by patching
// the subscription's scheduled change to null, which is the only value
// Paddle accepts on update.
func (p *PaddleGateway) RemoveScheduledCancellation(ctx context.Context, gatewaySubscriptionID string) error {
	if gatewaySubscriptionID == "" {
		return fmt.Errorf("%w: subscription ID is required", ErrInvalidRequest)
	}

	_, err := p.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:  gatewaySubscriptionID,
		ScheduledChange: paddle.NewNullPatchField[*paddle.SubscriptionScheduledChange](),
	})
	if err != nil {
		return classifyGatewayErr("remove scheduled cancellation", err)
	}
	return nil
}

// CreateCheckout creates a hosted checkout session in Paddle.
func (p *PaddleGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price ID is required", ErrInvalidRequest)
	}
	if req.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer ID is required", ErrInvalidRequest)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	custom := paddle.CustomData{"customer_id": req.CustomerID}
	if req.Email != "" {
		custom["email"] = req.Email
	}
	for k, v := range req.Metadata {
		custom[k] = v
	}

	transactionReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}

	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, classifyGatewayErr("create checkout", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &Checkout{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour), // Paddle checkout links expire in 24 hours
	}, nil
}

// ParseWebhook verifies the payload signature and normalizes the event.
// Verification happens before a single payload byte is trusted.
func (p *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureVerification, err)
	}
	if !valid {
		return nil, ErrSignatureVerification
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if paddleEvent.EventID == "" {
		return nil, fmt.Errorf("%w: missing event_id", ErrMalformedPayload)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, paddleEvent.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad occurred_at %q", ErrMalformedPayload, paddleEvent.OccurredAt)
	}

	event := &Event{
		ID:            paddleEvent.EventID,
		Type:          mapPaddleEventType(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
		OccurredAt:    occurredAt.UTC(),
		Metadata:      extractCustomData(paddleEvent.Data),
		Raw:           paddleEvent.Data,
	}

	switch {
	case strings.HasPrefix(paddleEvent.EventType, "subscription."):
		if subID, ok := paddleEvent.Data["id"].(string); ok {
			event.GatewaySubscriptionID = subID
		}
		if period, ok := paddleEvent.Data["current_billing_period"].(map[string]any); ok {
			if ends, ok := period["ends_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, ends); err == nil {
					t = t.UTC()
					event.PeriodEnd = &t
				}
			}
		}
		if change, ok := paddleEvent.Data["scheduled_change"].(map[string]any); ok {
			if action, ok := change["action"].(string); ok && action == "cancel" {
				event.CancelAtPeriodEnd = true
			}
		}

	case strings.HasPrefix(paddleEvent.EventType, "transaction."):
		if subID, ok := paddleEvent.Data["subscription_id"].(string); ok {
			event.GatewaySubscriptionID = subID
		}
		if details, ok := paddleEvent.Data["details"].(map[string]any); ok {
			if totals, ok := details["totals"].(map[string]any); ok {
				event.GrossCents = centsField(totals, "grand_total")
				event.FeeCents = centsField(totals, "fee")
				if cur, ok := totals["currency_code"].(string); ok {
					event.Currency = cur
				}
			}
		}
		if event.Currency == "" {
			if cur, ok := paddleEvent.Data["currency_code"].(string); ok {
				event.Currency = cur
			}
		}
	}

	return event, nil
}

// RetrieveBalance is unsupported on Paddle: there is no connected-account
// balance API. Callers fall back to the local commission ledger.
func (p *PaddleGateway) RetrieveBalance(ctx context.Context, connectedAccountID string) (money.Amount, error) {
	return money.Amount{}, fmt.Errorf("%w: paddle exposes no connected-account balance", ErrUnsupported)
}

// mapPaddleEventType maps Paddle event names to normalized EventType values.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "transaction.completed", "transaction.payment_succeeded":
		return EventChargeSucceeded
	case "transaction.payment_failed":
		return EventChargeFailed
	case "subscription.updated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	default:
		return EventUnknown
	}
}

// extractCustomData flattens Paddle custom_data into string metadata.
func extractCustomData(data map[string]any) map[string]string {
	custom, ok := data["custom_data"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(custom))
	for k, v := range custom {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// centsField reads a Paddle totals field. Paddle reports amounts in the
// lowest denomination as strings.
func centsField(totals map[string]any, key string) int64 {
	s, ok := totals[key].(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// classifyGatewayErr wraps network-level failures as ErrGatewayUnavailable so
// callers can honor the retry contract; everything else passes through.
func classifyGatewayErr(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %w", ErrGatewayUnavailable, op, err)
	}
	return fmt.Errorf("paddle %s: %w", op, err)
}
