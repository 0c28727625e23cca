package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "pdl_ntfset_test_secret"

func testGateway(t *testing.T) *PaddleGateway {
	t.Helper()
	g, err := NewPaddleGateway(PaddleConfig{
		APIKey:        "pdl_sdbx_apikey_test",
		WebhookSecret: testWebhookSecret,
		Environment:   "sandbox",
	})
	require.NoError(t, err)
	return g
}

// sign produces a Paddle webhook signature header for the payload:
// HMAC-SHA256 over "<ts>:<body>" keyed with the endpoint secret.
func sign(payload []byte) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts + ":" + string(payload)))
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestNewPaddleGateway(t *testing.T) {
	t.Parallel()

	t.Run("requires api key", func(t *testing.T) {
		t.Parallel()
		_, err := NewPaddleGateway(PaddleConfig{WebhookSecret: "s"})
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("requires webhook secret", func(t *testing.T) {
		t.Parallel()
		_, err := NewPaddleGateway(PaddleConfig{APIKey: "k"})
		assert.ErrorIs(t, err, ErrMissingWebhookSecret)
	})

	t.Run("rejects unknown environment", func(t *testing.T) {
		t.Parallel()
		_, err := NewPaddleGateway(PaddleConfig{APIKey: "k", WebhookSecret: "s", Environment: "staging"})
		assert.ErrorIs(t, err, ErrInvalidEnvironment)
	})
}

func TestMapPaddleEventType(t *testing.T) {
	t.Parallel()

	cases := map[string]EventType{
		"transaction.completed":         EventChargeSucceeded,
		"transaction.payment_succeeded": EventChargeSucceeded,
		"transaction.payment_failed":    EventChargeFailed,
		"subscription.updated":          EventSubscriptionUpdated,
		"subscription.resumed":          EventSubscriptionUpdated,
		"subscription.canceled":         EventSubscriptionDeleted,
		"subscription.created":          EventUnknown,
		"adjustment.created":            EventUnknown,
		"":                              EventUnknown,
	}
	for name, want := range cases {
		assert.Equal(t, want, mapPaddleEventType(name), name)
	}
}

func TestParseWebhook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("transaction payload", func(t *testing.T) {
		t.Parallel()
		g := testGateway(t)
		payload := []byte(`{
			"event_id": "evt_01hv8x",
			"event_type": "transaction.completed",
			"occurred_at": "2026-03-01T09:30:00.5Z",
			"data": {
				"id": "txn_01hv8y",
				"subscription_id": "sub_01hv8z",
				"details": {
					"totals": {
						"grand_total": "800",
						"fee": "46",
						"currency_code": "USD"
					}
				},
				"custom_data": {"takeover_id": "tko_1", "ignored": 5}
			}
		}`)

		ev, err := g.ParseWebhook(ctx, payload, sign(payload))
		require.NoError(t, err)
		assert.Equal(t, "evt_01hv8x", ev.ID)
		assert.Equal(t, EventChargeSucceeded, ev.Type)
		assert.Equal(t, "transaction.completed", ev.ProviderEvent)
		assert.Equal(t, "sub_01hv8z", ev.GatewaySubscriptionID)
		assert.Equal(t, int64(800), ev.GrossCents)
		assert.Equal(t, int64(46), ev.FeeCents)
		assert.Equal(t, "USD", ev.Currency)
		assert.True(t, ev.OccurredAt.Equal(time.Date(2026, 3, 1, 9, 30, 0, 500000000, time.UTC)))
		assert.Equal(t, "tko_1", ev.Metadata["takeover_id"])
		assert.True(t, ev.IsTakeover())
	})

	t.Run("subscription payload", func(t *testing.T) {
		t.Parallel()
		g := testGateway(t)
		payload := []byte(`{
			"event_id": "evt_01hv90",
			"event_type": "subscription.updated",
			"occurred_at": "2026-03-02T00:00:00Z",
			"data": {
				"id": "sub_01hv8z",
				"current_billing_period": {"ends_at": "2026-04-01T00:00:00Z"},
				"scheduled_change": {"action": "cancel"}
			}
		}`)

		ev, err := g.ParseWebhook(ctx, payload, sign(payload))
		require.NoError(t, err)
		assert.Equal(t, EventSubscriptionUpdated, ev.Type)
		assert.Equal(t, "sub_01hv8z", ev.GatewaySubscriptionID)
		require.NotNil(t, ev.PeriodEnd)
		assert.True(t, ev.PeriodEnd.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
		assert.True(t, ev.CancelAtPeriodEnd)
	})

	t.Run("rejects tampered payload", func(t *testing.T) {
		t.Parallel()
		g := testGateway(t)
		payload := []byte(`{"event_id":"evt_01","event_type":"transaction.completed","occurred_at":"2026-03-01T00:00:00Z","data":{}}`)
		sig := sign(payload)
		tampered := []byte(`{"event_id":"evt_01","event_type":"transaction.completed","occurred_at":"2026-03-01T00:00:00Z","data":{"details":{"totals":{"grand_total":"999999"}}}}`)

		_, err := g.ParseWebhook(ctx, tampered, sig)
		assert.ErrorIs(t, err, ErrSignatureVerification)
	})

	t.Run("rejects missing event id", func(t *testing.T) {
		t.Parallel()
		g := testGateway(t)
		payload := []byte(`{"event_type":"transaction.completed","occurred_at":"2026-03-01T00:00:00Z","data":{}}`)
		_, err := g.ParseWebhook(ctx, payload, sign(payload))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestCentsField(t *testing.T) {
	t.Parallel()

	totals := map[string]any{"grand_total": "801", "fee": 46, "bad": "x"}
	assert.Equal(t, int64(801), centsField(totals, "grand_total"))
	assert.Zero(t, centsField(totals, "fee")) // Paddle sends strings; a number is malformed
	assert.Zero(t, centsField(totals, "bad"))
	assert.Zero(t, centsField(totals, "missing"))
}

func TestExtractCustomData(t *testing.T) {
	t.Parallel()

	assert.Nil(t, extractCustomData(map[string]any{}))
	got := extractCustomData(map[string]any{
		"custom_data": map[string]any{"a": "1", "b": 2},
	})
	assert.Equal(t, map[string]string{"a": "1"}, got)
}
