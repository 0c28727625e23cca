package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/lifecycle"
	"github.com/everkeep/everkeep/pkg/logger"
)

// Service executes user-initiated subscription commands. The gateway is told
// before the ledger because it owns the billing schedule; if the ledger write
// fails afterwards, the subscription.updated webhook brings the row back in
// line with what the gateway scheduled.
type Service struct {
	store   ledger.Store
	gateway billing.Gateway
	machine lifecycle.Machine
	log     *slog.Logger
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the wall clock used to stamp commands.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a subscription command service.
func NewService(store ledger.Store, gateway billing.Gateway, machine lifecycle.Machine, log *slog.Logger, opts ...Option) *Service {
	if store == nil || gateway == nil {
		panic("subscriptions: store and gateway are required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:   store,
		gateway: gateway,
		machine: machine,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cancel schedules cancellation at the end of the current paid period.
// Entitlement is untouched until the gateway reports the period-end deletion,
// which then opens the grace window.
func (s *Service) Cancel(ctx context.Context, subscriptionID uuid.UUID) (*ledger.Subscription, error) {
	return s.request(ctx, subscriptionID, lifecycle.EventCancelRequested)
}

// Resume withdraws a pending cancellation before it takes effect.
func (s *Service) Resume(ctx context.Context, subscriptionID uuid.UUID) (*ledger.Subscription, error) {
	return s.request(ctx, subscriptionID, lifecycle.EventResumeRequested)
}

func (s *Service) request(ctx context.Context, subscriptionID uuid.UUID, evType lifecycle.EventType) (*ledger.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	ev := lifecycle.Event{Type: evType, OccurredAt: s.now()}

	// Reject impossible commands before touching the gateway.
	if _, err := s.machine.Decide(sub.Snapshot(), ev); err != nil {
		return nil, commandErr(evType, err)
	}

	switch evType {
	case lifecycle.EventCancelRequested:
		if err := s.gateway.CancelAtPeriodEnd(ctx, sub.GatewaySubscriptionID); err != nil {
			return nil, fmt.Errorf("schedule cancellation: %w", err)
		}
	case lifecycle.EventResumeRequested:
		if err := s.gateway.RemoveScheduledCancellation(ctx, sub.GatewaySubscriptionID); err != nil {
			return nil, fmt.Errorf("withdraw cancellation: %w", err)
		}
	}

	var updated *ledger.Subscription
	err = s.store.InTx(ctx, func(tx ledger.Tx) error {
		row, err := tx.GetSubscriptionByGatewayID(ctx, sub.GatewaySubscriptionID)
		if err != nil {
			return err
		}
		// Decide again against the locked row; a webhook may have moved it
		// between the pre-check and here.
		decision, err := s.machine.Decide(row.Snapshot(), ev)
		if err != nil {
			return commandErr(evType, err)
		}

		expected := row.LastEventAt
		row.Status = decision.Next
		row.LastEventAt = ev.OccurredAt
		for _, effect := range decision.Effects {
			switch effect {
			case lifecycle.EffectSetCancelAtPeriodEnd:
				row.CancelAtPeriodEnd = true
			case lifecycle.EffectClearCancelAtPeriodEnd:
				row.CancelAtPeriodEnd = false
			}
		}
		if err := tx.UpdateSubscription(ctx, row, expected); err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription command applied",
		logger.SubscriptionID(updated.ID),
		logger.EventType(string(evType)),
		slog.String("state", string(updated.Status)),
	)
	return updated, nil
}

// commandErr maps machine rejections onto the command's sentinel; everything
// else passes through.
func commandErr(evType lifecycle.EventType, err error) error {
	if errors.Is(err, lifecycle.ErrTransitionNotAllowed) || errors.Is(err, lifecycle.ErrStaleEvent) {
		if evType == lifecycle.EventResumeRequested {
			return fmt.Errorf("%w: %v", ErrResumeNotAllowed, err)
		}
		return fmt.Errorf("%w: %v", ErrCancelNotAllowed, err)
	}
	return err
}
