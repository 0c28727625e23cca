package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ingest"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/lifecycle"
	"github.com/everkeep/everkeep/pkg/logger"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *ledger.MemoryStore
	processor  *ingest.Processor
	subscriber *ledger.Account
	provider   *ledger.Account
	sub        *ledger.Subscription
}

type fakeCompleter struct {
	calls []*billing.Event
}

func (f *fakeCompleter) Complete(_ context.Context, _ ledger.Tx, ev *billing.Event) error {
	f.calls = append(f.calls, ev)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryStore()

	provider := &ledger.Account{
		Kind:              ledger.KindProvider,
		Email:             "provider@example.com",
		CommissionRateBps: 5000,
	}
	require.NoError(t, store.CreateAccount(ctx, provider))

	subscriber := &ledger.Account{
		Kind:  ledger.KindSubscriber,
		Email: "subscriber@example.com",
	}
	require.NoError(t, store.CreateAccount(ctx, subscriber))

	sub := &ledger.Subscription{
		SubscriberID:          subscriber.ID,
		ProviderID:            &provider.ID,
		GalleryID:             uuid.New(),
		GatewaySubscriptionID: "psub_01abc",
		Status:                lifecycle.StateActive,
		CommissionRateBps:     provider.CommissionRateBps,
	}
	require.NoError(t, store.CreateSubscription(ctx, sub))

	processor := ingest.NewProcessor(store, lifecycle.NewMachine(), logger.New())
	return &fixture{store: store, processor: processor, subscriber: subscriber, provider: provider, sub: sub}
}

func chargeEvent(id string, typ billing.EventType, at time.Time) *billing.Event {
	return &billing.Event{
		ID:                    id,
		Type:                  typ,
		GatewaySubscriptionID: "psub_01abc",
		OccurredAt:            at,
		GrossCents:            800,
		Currency:              "USD",
	}
}

func TestProcessChargeSucceeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_1", billing.EventChargeSucceeded, base)))

	sub, err := f.store.GetSubscription(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, sub.Status)
	assert.True(t, sub.LastEventAt.Equal(base))

	recs := f.store.CommissionRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(400), recs[0].ProviderCents)
	assert.Equal(t, int64(400), recs[0].PlatformCents)
	assert.Equal(t, "USD", recs[0].Currency)
	require.NotNil(t, recs[0].ProviderID)
	assert.Equal(t, f.provider.ID, *recs[0].ProviderID)
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	ev := chargeEvent("evt_dup", billing.EventChargeSucceeded, base)
	require.NoError(t, f.processor.Process(ctx, ev))
	require.NoError(t, f.processor.Process(ctx, ev))
	require.NoError(t, f.processor.Process(ctx, ev))

	assert.Len(t, f.store.CommissionRecords(), 1)
}

func TestProcessNoProviderKeepsFullAmountOnPlatform(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	orphan := &ledger.Subscription{
		SubscriberID:          f.subscriber.ID,
		GalleryID:             uuid.New(),
		GatewaySubscriptionID: "psub_noprov",
		Status:                lifecycle.StateActive,
		CommissionRateBps:     5000, // stale snapshot must be ignored without a provider
	}
	require.NoError(t, f.store.CreateSubscription(ctx, orphan))

	ev := chargeEvent("evt_orphan", billing.EventChargeSucceeded, base)
	ev.GatewaySubscriptionID = "psub_noprov"
	require.NoError(t, f.processor.Process(ctx, ev))

	recs := f.store.CommissionRecords()
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].ProviderCents)
	assert.Equal(t, int64(800), recs[0].PlatformCents)
	assert.Nil(t, recs[0].ProviderID)
}

func TestProcessStaleEventDiscarded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_new", billing.EventChargeSucceeded, base)))
	// An older failure arrives late; it must not overwrite the newer state.
	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_old", billing.EventChargeFailed, base.Add(-time.Hour))))

	sub, err := f.store.GetSubscription(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, sub.Status)
	assert.Zero(t, sub.ConsecutiveFailures)
}

func TestProcessFailureEscalation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_f1", billing.EventChargeFailed, base)))
	sub, err := f.store.GetSubscription(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatePastDue, sub.Status)
	assert.Equal(t, int32(1), sub.ConsecutiveFailures)
	assert.Nil(t, sub.GraceDeadline)

	secondFailure := base.Add(24 * time.Hour)
	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_f2", billing.EventChargeFailed, secondFailure)))
	sub, err = f.store.GetSubscription(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateGracePeriod, sub.Status)
	assert.Equal(t, int32(2), sub.ConsecutiveFailures)
	require.NotNil(t, sub.GraceDeadline)
	assert.True(t, sub.GraceDeadline.Equal(secondFailure.Add(lifecycle.DefaultGraceWindow)))

	// The deadline is mirrored onto the account for the sweep.
	acct, err := f.store.GetAccount(ctx, f.subscriber.ID)
	require.NoError(t, err)
	require.NotNil(t, acct.GraceDeadline)
	assert.True(t, acct.GraceDeadline.Equal(*sub.GraceDeadline))
	assert.Equal(t, int32(2), acct.PaymentFailures)
}

func TestProcessRecoveryClearsGraceAndFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_f1", billing.EventChargeFailed, base)))
	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_f2", billing.EventChargeFailed, base.Add(time.Hour))))
	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_ok", billing.EventChargeSucceeded, base.Add(2*time.Hour))))

	sub, err := f.store.GetSubscription(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, sub.Status)
	assert.Zero(t, sub.ConsecutiveFailures)
	assert.Nil(t, sub.GraceDeadline)

	acct, err := f.store.GetAccount(ctx, f.subscriber.ID)
	require.NoError(t, err)
	assert.Nil(t, acct.GraceDeadline)
	assert.Zero(t, acct.PaymentFailures)
}

// suspendProvider marks the provider overdue and runs the conditional flip
// the suspension sweep performs. The account ends up suspended while the
// provider's platform subscription row keeps whatever state billing left it
// in, which is exactly the shape re-entry has to handle.
func suspendProvider(t *testing.T, store *ledger.MemoryStore, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	overdue := base.Add(-100 * 24 * time.Hour)
	require.NoError(t, store.InTx(ctx, func(tx ledger.Tx) error {
		return tx.MarkProviderOverdue(ctx, id, overdue)
	}))
	changed, err := store.SuspendProvider(ctx, id, base, base.Add(-90*24*time.Hour))
	require.NoError(t, err)
	require.True(t, changed)
}

func TestProcessSuspendedReentry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ledger.NewMemoryStore()

	// A provider whose platform subscription sat in grace period long
	// enough for the sweep to suspend the account. The subscription row
	// itself never leaves grace_period; only the account status flips.
	provider := &ledger.Account{Kind: ledger.KindProvider, Email: "p@example.com"}
	require.NoError(t, store.CreateAccount(ctx, provider))

	sub := &ledger.Subscription{
		SubscriberID:          provider.ID,
		GalleryID:             uuid.New(),
		GatewaySubscriptionID: "psub_platform",
		Status:                lifecycle.StateGracePeriod,
		ConsecutiveFailures:   2,
	}
	require.NoError(t, store.CreateSubscription(ctx, sub))
	suspendProvider(t, store, provider.ID)

	processor := ingest.NewProcessor(store, lifecycle.NewMachine(), logger.New())
	ev := chargeEvent("evt_reentry", billing.EventChargeSucceeded, base.Add(time.Hour))
	ev.GatewaySubscriptionID = "psub_platform"
	require.NoError(t, processor.Process(ctx, ev))

	got, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, got.Status)
	assert.Zero(t, got.ConsecutiveFailures)

	acct, err := store.GetAccount(ctx, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountActive, acct.Status)
	assert.False(t, acct.AccessSuspended)
	assert.Nil(t, acct.OverdueSince)
	assert.Nil(t, acct.SuspendedAt)
}

func TestProcessWithholdsCommissionFromSuspendedProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	suspendProvider(t, f.store, f.provider.ID)

	// A client keeps paying while their photographer is suspended: the
	// split stays exact, but the provider share goes to the platform.
	require.NoError(t, f.processor.Process(ctx, chargeEvent("evt_withheld", billing.EventChargeSucceeded, base)))

	recs := f.store.CommissionRecords()
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].ProviderCents)
	assert.Equal(t, int64(800), recs[0].PlatformCents)
	require.NotNil(t, recs[0].ProviderID)
	assert.Equal(t, f.provider.ID, *recs[0].ProviderID)

	total, err := f.store.SumProviderCommission(ctx, f.provider.ID, "USD")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestProcessProviderOverdueMarking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ledger.NewMemoryStore()

	provider := &ledger.Account{Kind: ledger.KindProvider, Email: "p@example.com"}
	require.NoError(t, store.CreateAccount(ctx, provider))
	sub := &ledger.Subscription{
		SubscriberID:          provider.ID,
		GalleryID:             uuid.New(),
		GatewaySubscriptionID: "psub_platform",
		Status:                lifecycle.StateActive,
	}
	require.NoError(t, store.CreateSubscription(ctx, sub))

	processor := ingest.NewProcessor(store, lifecycle.NewMachine(), logger.New())

	ev := chargeEvent("evt_pf1", billing.EventChargeFailed, base)
	ev.GatewaySubscriptionID = "psub_platform"
	require.NoError(t, processor.Process(ctx, ev))

	acct, err := store.GetAccount(ctx, provider.ID)
	require.NoError(t, err)
	require.NotNil(t, acct.OverdueSince)
	assert.True(t, acct.OverdueSince.Equal(base))

	// A later failure must not move the original overdue marker.
	ev2 := chargeEvent("evt_pf2", billing.EventChargeFailed, base.Add(time.Hour))
	ev2.GatewaySubscriptionID = "psub_platform"
	require.NoError(t, processor.Process(ctx, ev2))
	acct, err = store.GetAccount(ctx, provider.ID)
	require.NoError(t, err)
	assert.True(t, acct.OverdueSince.Equal(base))

	// Payment success clears it.
	ev3 := chargeEvent("evt_pok", billing.EventChargeSucceeded, base.Add(2*time.Hour))
	ev3.GatewaySubscriptionID = "psub_platform"
	require.NoError(t, processor.Process(ctx, ev3))
	acct, err = store.GetAccount(ctx, provider.ID)
	require.NoError(t, err)
	assert.Nil(t, acct.OverdueSince)
}

func TestProcessUnknownSubscriptionAcked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	ev := chargeEvent("evt_nobody", billing.EventChargeSucceeded, base)
	ev.GatewaySubscriptionID = "psub_unknown"
	require.NoError(t, f.processor.Process(ctx, ev))
	// The delivery was recorded, so a replay dedups.
	require.NoError(t, f.processor.Process(ctx, ev))
	assert.Empty(t, f.store.CommissionRecords())
}

func TestProcessUnknownEventTypeIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	ev := chargeEvent("evt_misc", billing.EventUnknown, base)
	require.NoError(t, f.processor.Process(ctx, ev))

	sub, err := f.store.GetSubscription(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.True(t, sub.LastEventAt.IsZero())
}

func TestProcessRejectsMissingEventID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	err := f.processor.Process(context.Background(), &billing.Event{Type: billing.EventChargeSucceeded})
	assert.ErrorIs(t, err, ingest.ErrMissingEventID)
}

func TestProcessRoutesTakeoverConfirmations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	completer := &fakeCompleter{}
	processor := ingest.NewProcessor(store, lifecycle.NewMachine(), logger.New(),
		ingest.WithTakeoverCompleter(completer))

	ev := chargeEvent("evt_takeover", billing.EventChargeSucceeded, base)
	ev.Metadata = map[string]string{billing.MetadataTakeoverID: uuid.NewString()}
	require.NoError(t, processor.Process(ctx, ev))
	require.Len(t, completer.calls, 1)

	// Replayed confirmation dedups before reaching the completer.
	require.NoError(t, processor.Process(ctx, ev))
	assert.Len(t, completer.calls, 1)
}
