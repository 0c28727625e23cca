package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/commission"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/lifecycle"
	"github.com/everkeep/everkeep/pkg/logger"
)

// TakeoverCompleter finalizes a billing takeover when its checkout's payment
// confirmation arrives. Implemented by the takeover service; an interface
// here keeps the dependency pointing outward.
type TakeoverCompleter interface {
	Complete(ctx context.Context, tx ledger.Tx, ev *billing.Event) error
}

// Processor applies verified gateway events to the ledger. All mutations for
// one event happen in a single store transaction together with the
// idempotency insert.
type Processor struct {
	store     ledger.Store
	machine   lifecycle.Machine
	takeovers TakeoverCompleter
	log       *slog.Logger
	now       func() time.Time
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithTakeoverCompleter wires the takeover completion hook.
func WithTakeoverCompleter(tc TakeoverCompleter) ProcessorOption {
	return func(p *Processor) { p.takeovers = tc }
}

// WithClock overrides the wall clock; tests use it for deterministic
// received-at stamps.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates an event processor.
func NewProcessor(store ledger.Store, machine lifecycle.Machine, log *slog.Logger, opts ...ProcessorOption) *Processor {
	if store == nil {
		panic("ingest: store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		store:   store,
		machine: machine,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies one event. A nil return means the delivery is settled and
// the gateway must be acknowledged; that covers successful application AND
// every discard case (duplicate, stale, unknown subscription, no legal
// transition). A non-nil return means transient failure: nothing was
// committed and the gateway should redeliver.
func (p *Processor) Process(ctx context.Context, ev *billing.Event) error {
	if ev == nil || ev.ID == "" {
		return ErrMissingEventID
	}
	log := p.log.With(
		logger.GatewayEventID(ev.ID),
		logger.EventType(string(ev.Type)),
	)

	if ev.Type == billing.EventUnknown {
		log.DebugContext(ctx, "ignoring unhandled gateway event", slog.String("provider_event", ev.ProviderEvent))
		return nil
	}

	err := p.store.InTx(ctx, func(tx ledger.Tx) error {
		return p.apply(ctx, tx, ev, log)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEvent) {
			log.InfoContext(ctx, "duplicate delivery discarded")
			return nil
		}
		return err
	}
	return nil
}

// apply runs inside the store transaction.
func (p *Processor) apply(ctx context.Context, tx ledger.Tx, ev *billing.Event, log *slog.Logger) error {
	// Takeover checkouts confirm with a regular payment event; the
	// takeover id in metadata routes it to the completion path. Sharing
	// the transaction with the idempotency insert means a replayed
	// confirmation cannot re-claim the payer.
	if ev.IsTakeover() && ev.Type == billing.EventChargeSucceeded {
		if p.takeovers == nil {
			return ErrNoTakeoverCompleter
		}
		if err := tx.InsertPaymentEvent(ctx, p.eventRecord(ev, nil)); err != nil {
			return err
		}
		return p.takeovers.Complete(ctx, tx, ev)
	}

	sub, err := tx.GetSubscriptionByGatewayID(ctx, ev.GatewaySubscriptionID)
	if err != nil {
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			// Record the delivery for audit and dedup, then settle.
			// Creating ledger rows from unsolicited webhooks is not
			// this pipeline's job.
			log.WarnContext(ctx, "event references unknown subscription",
				slog.String("gateway_subscription_id", ev.GatewaySubscriptionID))
			return tx.InsertPaymentEvent(ctx, p.eventRecord(ev, nil))
		}
		return fmt.Errorf("load subscription: %w", err)
	}
	log = log.With(logger.SubscriptionID(sub.ID))

	record := p.eventRecord(ev, &sub.ID)
	if err := tx.InsertPaymentEvent(ctx, record); err != nil {
		return err
	}

	decision, err := p.machine.Decide(sub.Snapshot(), lifecycle.Event{
		Type:       lifecycle.EventType(ev.Type),
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrStaleEvent):
			// Commit the event row so the replay dedups, but leave the
			// subscription untouched: a newer event already won.
			log.InfoContext(ctx, "stale event discarded", logger.Error(err))
			return nil
		case errors.Is(err, lifecycle.ErrTransitionNotAllowed):
			log.WarnContext(ctx, "no transition for event in current state",
				slog.String("state", string(sub.Status)), logger.Error(err))
			return nil
		default:
			return fmt.Errorf("decide transition: %w", err)
		}
	}

	expectedLastEventAt := sub.LastEventAt
	p.applyDecision(sub, decision, ev)

	if err := tx.UpdateSubscription(ctx, sub, expectedLastEventAt); err != nil {
		// A concurrent handler got there first. Roll everything back,
		// including our event insert, and let the gateway redeliver.
		return fmt.Errorf("update subscription: %w", err)
	}

	if err := p.applyAccountEffects(ctx, tx, sub, decision, ev, log); err != nil {
		return err
	}

	if decision.Has(lifecycle.EffectPostCommission) {
		if err := p.postCommission(ctx, tx, sub, record.ID, ev, log); err != nil {
			return err
		}
	}

	log.InfoContext(ctx, "event applied", slog.String("state", string(decision.Next)))
	return nil
}

// applyDecision mutates the subscription row per the machine's decision.
func (p *Processor) applyDecision(sub *ledger.Subscription, d lifecycle.Decision, ev *billing.Event) {
	sub.Status = d.Next
	sub.LastEventAt = ev.OccurredAt

	for _, effect := range d.Effects {
		switch effect {
		case lifecycle.EffectSetGraceDeadline:
			deadline := p.machine.GraceDeadline(ev.OccurredAt)
			sub.GraceDeadline = &deadline
		case lifecycle.EffectClearGraceDeadline:
			sub.GraceDeadline = nil
		case lifecycle.EffectResetFailureCount:
			sub.ConsecutiveFailures = 0
		case lifecycle.EffectIncrementFailureCount:
			sub.ConsecutiveFailures++
		case lifecycle.EffectSetCancelAtPeriodEnd:
			sub.CancelAtPeriodEnd = true
		case lifecycle.EffectClearCancelAtPeriodEnd:
			sub.CancelAtPeriodEnd = false
		case lifecycle.EffectSyncPeriodEnd:
			if ev.PeriodEnd != nil {
				sub.CurrentPeriodEnd = ev.PeriodEnd
			}
			sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		}
	}
}

// applyAccountEffects mirrors subscription-level outcomes onto the paying
// account: failure counters, the grace deadline marker the deactivation
// sweep scans for, the overdue marker the suspension sweep scans for, and
// suspension re-entry.
func (p *Processor) applyAccountEffects(ctx context.Context, tx ledger.Tx, sub *ledger.Subscription, d lifecycle.Decision, ev *billing.Event, log *slog.Logger) error {
	acct, err := tx.GetAccount(ctx, sub.SubscriberID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			log.WarnContext(ctx, "subscription has no paying account", logger.AccountID(sub.SubscriberID))
			return nil
		}
		return fmt.Errorf("load paying account: %w", err)
	}

	// The suspension sweep flips the account, not the subscription row, so
	// re-entry keys off the paying account's own status: any confirmed
	// charge lifts an account-level suspension.
	liftSuspension := acct.Status == ledger.AccountSuspended && ev.Type == billing.EventChargeSucceeded

	for _, effect := range d.Effects {
		switch effect {
		case lifecycle.EffectResetFailureCount:
			if err := tx.ResetPaymentFailures(ctx, acct.ID); err != nil {
				return err
			}
			if acct.Kind == ledger.KindProvider {
				if err := tx.ClearProviderOverdue(ctx, acct.ID); err != nil {
					return err
				}
			}
		case lifecycle.EffectIncrementFailureCount:
			if err := tx.IncrementPaymentFailures(ctx, acct.ID); err != nil {
				return err
			}
			if acct.Kind == ledger.KindProvider {
				if err := tx.MarkProviderOverdue(ctx, acct.ID, ev.OccurredAt); err != nil {
					return err
				}
			}
		case lifecycle.EffectSetGraceDeadline:
			deadline := p.machine.GraceDeadline(ev.OccurredAt)
			if err := tx.SetAccountGraceDeadline(ctx, acct.ID, &deadline); err != nil {
				return err
			}
		case lifecycle.EffectClearGraceDeadline:
			if err := tx.SetAccountGraceDeadline(ctx, acct.ID, nil); err != nil {
				return err
			}
		case lifecycle.EffectClearAccountSuspension:
			liftSuspension = true
		}
	}

	if liftSuspension {
		if err := tx.ClearAccountSuspension(ctx, acct.ID); err != nil {
			return err
		}
		log.InfoContext(ctx, "account suspension lifted by payment", logger.AccountID(acct.ID))
	}
	return nil
}

// postCommission computes and records the split for a confirmed payment.
func (p *Processor) postCommission(ctx context.Context, tx ledger.Tx, sub *ledger.Subscription, paymentEventID uuid.UUID, ev *billing.Event, log *slog.Logger) error {
	rate := sub.CommissionRateBps
	if sub.ProviderID == nil {
		// No provider attached: the platform keeps the full net amount.
		rate = 0
	} else {
		provider, err := tx.GetAccount(ctx, *sub.ProviderID)
		if err != nil {
			return fmt.Errorf("load provider account: %w", err)
		}
		if provider.Status == ledger.AccountSuspended || provider.AccessSuspended {
			// A suspended provider stops earning: the platform keeps
			// their share until payment re-entry clears the suspension.
			rate = 0
			log.WarnContext(ctx, "provider suspended, commission withheld",
				logger.AccountID(provider.ID))
		}
	}

	split, err := commission.Calculate(ev.GrossCents, rate, ev.FeeCents)
	if err != nil {
		return fmt.Errorf("%w: commission calculation: %v", ledger.ErrInvariantViolation, err)
	}
	if err := commission.Verify(split, ev.GrossCents, ev.FeeCents); err != nil {
		// Abort the whole transaction: better to let the gateway retry
		// than to post a split that does not sum.
		return fmt.Errorf("%w: %v", ledger.ErrInvariantViolation, err)
	}

	rec := &ledger.CommissionRecord{
		PaymentEventID: paymentEventID,
		SubscriptionID: sub.ID,
		ProviderID:     sub.ProviderID,
		ProviderCents:  split.ProviderCents,
		PlatformCents:  split.PlatformCents,
		Currency:       ev.Currency,
	}
	if err := tx.InsertCommissionRecord(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrDuplicateCommission) {
			log.WarnContext(ctx, "commission already posted for event")
			return nil
		}
		return fmt.Errorf("insert commission record: %w", err)
	}

	log.InfoContext(ctx, "commission posted",
		slog.Int64("provider_cents", split.ProviderCents),
		slog.Int64("platform_cents", split.PlatformCents),
		slog.String("currency", ev.Currency),
	)
	return nil
}

// eventRecord builds the immutable log row for a delivery.
func (p *Processor) eventRecord(ev *billing.Event, subID *uuid.UUID) *ledger.PaymentEvent {
	return &ledger.PaymentEvent{
		GatewayEventID: ev.ID,
		SubscriptionID: subID,
		Type:           string(ev.Type),
		GrossCents:     ev.GrossCents,
		FeeCents:       ev.FeeCents,
		Currency:       ev.Currency,
		OccurredAt:     ev.OccurredAt,
		ReceivedAt:     p.now(),
	}
}
