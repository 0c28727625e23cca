package billingapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/modules/billingapi"
	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ingest"
	"github.com/everkeep/everkeep/pkg/jobs"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/lifecycle"
	"github.com/everkeep/everkeep/pkg/logger"
	"github.com/everkeep/everkeep/pkg/money"
	"github.com/everkeep/everkeep/pkg/subscriptions"
	"github.com/everkeep/everkeep/pkg/takeover"
)

const jobsToken = "test-jobs-token"

var eventTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// stubGateway returns a canned parse result so handler tests control what
// "the gateway delivered" without real signatures.
type stubGateway struct {
	parsed   *billing.Event
	parseErr error
	balance  money.Amount
	balErr   error
}

func (g *stubGateway) CreateSubscription(context.Context, string, string, map[string]string) (string, error) {
	return "txn_stub", nil
}

func (g *stubGateway) CancelAtPeriodEnd(context.Context, string) error { return nil }

func (g *stubGateway) RemoveScheduledCancellation(context.Context, string) error { return nil }

func (g *stubGateway) CreateCheckout(context.Context, billing.CheckoutRequest) (*billing.Checkout, error) {
	return &billing.Checkout{
		URL:       "https://pay.example.com/c/abc",
		SessionID: "txn_abc",
		ExpiresAt: eventTime.Add(24 * time.Hour),
	}, nil
}

func (g *stubGateway) ParseWebhook(context.Context, []byte, string) (*billing.Event, error) {
	return g.parsed, g.parseErr
}

func (g *stubGateway) RetrieveBalance(context.Context, string) (money.Amount, error) {
	return g.balance, g.balErr
}

type stubSweeper struct {
	report jobs.Report
	err    error
}

func (s *stubSweeper) Run(context.Context) (jobs.Report, error) { return s.report, s.err }

type env struct {
	store   *ledger.MemoryStore
	gateway *stubGateway
	handler http.Handler
}

func newEnv(t *testing.T, gateway *stubGateway, sweep billingapi.Sweeper) *env {
	t.Helper()
	store := ledger.NewMemoryStore()
	log := logger.New()
	catalog := &billing.Catalog{
		RetentionPrices:       map[string]string{"monthly": "pri_monthly"},
		ProviderPlatformPrice: "pri_platform",
	}
	takeovers := takeover.NewService(store, gateway, catalog, log)
	processor := ingest.NewProcessor(store, lifecycle.NewMachine(), log,
		ingest.WithTakeoverCompleter(takeovers))
	subs := subscriptions.NewService(store, gateway, lifecycle.NewMachine(), log)

	handler := billingapi.NewRouter(billingapi.Deps{
		Log:             log,
		Store:           store,
		Gateway:         gateway,
		Processor:       processor,
		Takeovers:       takeovers,
		Subscriptions:   subs,
		GraceSweep:      sweep,
		SuspensionSweep: sweep,
		JobsToken:       jobsToken,
	})
	return &env{store: store, gateway: gateway, handler: handler}
}

func (e *env) post(t *testing.T, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func seedSubscription(t *testing.T, store *ledger.MemoryStore) *ledger.Subscription {
	t.Helper()
	ctx := context.Background()
	subscriber := &ledger.Account{Kind: ledger.KindSubscriber, Email: "s@example.com"}
	require.NoError(t, store.CreateAccount(ctx, subscriber))
	sub := &ledger.Subscription{
		SubscriberID:          subscriber.ID,
		GalleryID:             uuid.New(),
		GatewaySubscriptionID: "psub_http",
		Status:                lifecycle.StateActive,
	}
	require.NoError(t, store.CreateSubscription(ctx, sub))
	return sub
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("applies a valid event", func(t *testing.T) {
		t.Parallel()
		gateway := &stubGateway{parsed: &billing.Event{
			ID:                    "evt_http_1",
			Type:                  billing.EventChargeSucceeded,
			GatewaySubscriptionID: "psub_http",
			OccurredAt:            eventTime,
			GrossCents:            500,
			Currency:              "USD",
		}}
		e := newEnv(t, gateway, nil)
		sub := seedSubscription(t, e.store)

		rec := e.post(t, "/webhooks/payment-events", []byte(`{}`), nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		got, err := e.store.GetSubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.True(t, got.LastEventAt.Equal(eventTime))
	})

	t.Run("duplicate delivery still returns 200", func(t *testing.T) {
		t.Parallel()
		gateway := &stubGateway{parsed: &billing.Event{
			ID:                    "evt_http_dup",
			Type:                  billing.EventChargeSucceeded,
			GatewaySubscriptionID: "psub_http",
			OccurredAt:            eventTime,
			GrossCents:            500,
			Currency:              "USD",
		}}
		e := newEnv(t, gateway, nil)
		seedSubscription(t, e.store)

		assert.Equal(t, http.StatusOK, e.post(t, "/webhooks/payment-events", []byte(`{}`), nil).Code)
		assert.Equal(t, http.StatusOK, e.post(t, "/webhooks/payment-events", []byte(`{}`), nil).Code)
		assert.Len(t, e.store.CommissionRecords(), 1)
	})

	t.Run("bad signature is 401", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{parseErr: billing.ErrSignatureVerification}, nil)
		rec := e.post(t, "/webhooks/payment-events", []byte(`{}`), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed payload is 400", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{parseErr: billing.ErrMalformedPayload}, nil)
		rec := e.post(t, "/webhooks/payment-events", []byte(`not json`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSweepEndpoints(t *testing.T) {
	t.Parallel()

	auth := map[string]string{"Authorization": "Bearer " + jobsToken}

	t.Run("requires bearer token", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, &stubSweeper{})
		assert.Equal(t, http.StatusUnauthorized,
			e.post(t, "/jobs/grace-period-sweep", nil, nil).Code)
		assert.Equal(t, http.StatusUnauthorized,
			e.post(t, "/jobs/grace-period-sweep", nil, map[string]string{"Authorization": "Bearer wrong"}).Code)
	})

	t.Run("returns the run report", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, &stubSweeper{report: jobs.Report{Processed: 3, Failed: 1}})

		for _, path := range []string{"/jobs/grace-period-sweep", "/jobs/suspension-sweep"} {
			rec := e.post(t, path, nil, auth)
			require.Equal(t, http.StatusOK, rec.Code, path)
			assert.JSONEq(t, `{"processed":3,"failed":1}`, rec.Body.String(), path)
		}
	})

	t.Run("held lock is 409", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, &stubSweeper{err: jobs.ErrSweepAlreadyRunning})
		assert.Equal(t, http.StatusConflict,
			e.post(t, "/jobs/grace-period-sweep", nil, auth).Code)
	})
}

func TestTakeoverEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("returns a checkout reference", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		e := newEnv(t, &stubGateway{}, nil)

		target := &ledger.Account{Kind: ledger.KindSubscriber, Email: "t@example.com"}
		require.NoError(t, e.store.CreateAccount(ctx, target))
		candidate := &ledger.Account{Kind: ledger.KindSubscriber, Email: "c@example.com"}
		require.NoError(t, e.store.CreateAccount(ctx, candidate))

		body, _ := json.Marshal(map[string]string{
			"candidate_payer_id": candidate.ID.String(),
			"takeover_type":      "billing_only",
			"plan_key":           "monthly",
		})
		rec := e.post(t, "/accounts/"+target.ID.String()+"/takeover", body, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp struct {
			TakeoverID  uuid.UUID `json:"takeover_id"`
			CheckoutURL string    `json:"checkout_url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEqual(t, uuid.Nil, resp.TakeoverID)
		assert.True(t, strings.HasPrefix(resp.CheckoutURL, "https://pay.example.com/"))
	})

	t.Run("invalid account id is 400", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		rec := e.post(t, "/accounts/not-a-uuid/takeover", []byte(`{}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown account is 404", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		body, _ := json.Marshal(map[string]string{
			"candidate_payer_id": uuid.NewString(),
			"takeover_type":      "billing_only",
			"plan_key":           "monthly",
		})
		rec := e.post(t, "/accounts/"+uuid.NewString()+"/takeover", body, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid type is 422", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		e := newEnv(t, &stubGateway{}, nil)
		target := &ledger.Account{Kind: ledger.KindSubscriber, Email: "t@example.com"}
		require.NoError(t, e.store.CreateAccount(ctx, target))

		body, _ := json.Marshal(map[string]string{
			"candidate_payer_id": uuid.NewString(),
			"takeover_type":      "partial",
			"plan_key":           "monthly",
		})
		rec := e.post(t, "/accounts/"+target.ID.String()+"/takeover", body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestSubscriptionCommandEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("cancel schedules at period end", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		sub := seedSubscription(t, e.store)

		rec := e.post(t, "/subscriptions/"+sub.ID.String()+"/cancel", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"status":"cancel_pending"`)
		assert.Contains(t, rec.Body.String(), `"cancel_at_period_end":true`)

		row, err := e.store.GetSubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateCancelPending, row.Status)
	})

	t.Run("resume withdraws the cancellation", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		sub := seedSubscription(t, e.store)

		require.Equal(t, http.StatusOK, e.post(t, "/subscriptions/"+sub.ID.String()+"/cancel", nil, nil).Code)
		rec := e.post(t, "/subscriptions/"+sub.ID.String()+"/resume", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"status":"active"`)
		assert.Contains(t, rec.Body.String(), `"cancel_at_period_end":false`)
	})

	t.Run("resume without pending cancellation is 409", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		sub := seedSubscription(t, e.store)

		assert.Equal(t, http.StatusConflict,
			e.post(t, "/subscriptions/"+sub.ID.String()+"/resume", nil, nil).Code)
	})

	t.Run("invalid id is 400", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		assert.Equal(t, http.StatusBadRequest,
			e.post(t, "/subscriptions/not-a-uuid/cancel", nil, nil).Code)
	})

	t.Run("unknown subscription is 404", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		assert.Equal(t, http.StatusNotFound,
			e.post(t, "/subscriptions/"+uuid.NewString()+"/cancel", nil, nil).Code)
	})
}

func TestProviderBalanceEndpoint(t *testing.T) {
	t.Parallel()

	get := func(t *testing.T, e *env, path string) *httptest.ResponseRecorder {
		t.Helper()
		rec := httptest.NewRecorder()
		e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("falls back to the commission ledger", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		e := newEnv(t, &stubGateway{balErr: billing.ErrUnsupported}, nil)

		provider := &ledger.Account{
			Kind:               ledger.KindProvider,
			Email:              "p@example.com",
			ConnectedAccountID: "acct_conn",
		}
		require.NoError(t, e.store.CreateAccount(ctx, provider))
		subscriber := &ledger.Account{Kind: ledger.KindSubscriber, Email: "s@example.com"}
		require.NoError(t, e.store.CreateAccount(ctx, subscriber))
		sub := &ledger.Subscription{
			SubscriberID:          subscriber.ID,
			ProviderID:            &provider.ID,
			GalleryID:             uuid.New(),
			GatewaySubscriptionID: "psub_bal",
			Status:                lifecycle.StateActive,
		}
		require.NoError(t, e.store.CreateSubscription(ctx, sub))
		require.NoError(t, e.store.InTx(ctx, func(tx ledger.Tx) error {
			ev := &ledger.PaymentEvent{GatewayEventID: "evt_bal", OccurredAt: eventTime}
			if err := tx.InsertPaymentEvent(ctx, ev); err != nil {
				return err
			}
			return tx.InsertCommissionRecord(ctx, &ledger.CommissionRecord{
				PaymentEventID: ev.ID,
				SubscriptionID: sub.ID,
				ProviderID:     &provider.ID,
				ProviderCents:  740,
				Currency:       "USD",
			})
		}))

		rec := get(t, e, "/providers/"+provider.ID.String()+"/balance?currency=USD")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t,
			`{"provider_id":"`+provider.ID.String()+`","currency":"USD","balance_cents":740,"source":"ledger"}`,
			rec.Body.String())
	})

	t.Run("prefers the gateway balance when available", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		e := newEnv(t, &stubGateway{balance: money.MustNew(1234, "USD")}, nil)
		provider := &ledger.Account{
			Kind:               ledger.KindProvider,
			Email:              "p@example.com",
			ConnectedAccountID: "acct_conn",
		}
		require.NoError(t, e.store.CreateAccount(ctx, provider))

		rec := get(t, e, "/providers/"+provider.ID.String()+"/balance")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"source":"gateway"`)
		assert.Contains(t, rec.Body.String(), `"balance_cents":1234`)
	})

	t.Run("unknown provider is 404", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, &stubGateway{}, nil)
		assert.Equal(t, http.StatusNotFound, get(t, e, "/providers/"+uuid.NewString()+"/balance").Code)
	})

	t.Run("subscriber account is 404", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		e := newEnv(t, &stubGateway{}, nil)
		acct := &ledger.Account{Kind: ledger.KindSubscriber, Email: "s@example.com"}
		require.NoError(t, e.store.CreateAccount(ctx, acct))
		assert.Equal(t, http.StatusNotFound, get(t, e, "/providers/"+acct.ID.String()+"/balance").Code)
	})
}
