package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/logger"
)

const suspensionLockName = "provider-suspension"

// SuspensionSweeper suspends provider accounts whose platform subscription
// has been overdue past the configured threshold. Suspension stops payouts
// and listing; it is not terminal, and a later successful payment re-enters
// the account through the webhook pipeline.
type SuspensionSweeper struct {
	store    ledger.Store
	notifier Notifier
	locker   Locker
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// NewSuspensionSweeper creates the provider suspension sweep.
func NewSuspensionSweeper(store ledger.Store, notifier Notifier, locker Locker, cfg Config, log *slog.Logger) *SuspensionSweeper {
	if store == nil {
		panic("jobs: store is required")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if locker == nil {
		locker = NopLocker{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &SuspensionSweeper{
		store:    store,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		log:      log.With(logger.Component("suspension-sweep")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the sweep's wall clock for tests.
func (s *SuspensionSweeper) WithClock(now func() time.Time) *SuspensionSweeper {
	s.now = now
	return s
}

// Run executes one sweep over providers overdue longer than the threshold.
func (s *SuspensionSweeper) Run(ctx context.Context) (Report, error) {
	ok, err := s.locker.Acquire(ctx, suspensionLockName, s.cfg.LockTTL)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, ErrSweepAlreadyRunning
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), suspensionLockName); err != nil {
			s.log.WarnContext(ctx, "failed to release run lock", logger.Error(err))
		}
	}()

	now := s.now()
	cutoff := now.Add(-s.cfg.OverdueThreshold)
	providers, err := s.store.ListOverdueProviders(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, acct := range providers {
		changed, err := s.store.SuspendProvider(ctx, acct.ID, now, cutoff)
		if err != nil {
			report.Failed++
			s.log.ErrorContext(ctx, "failed to suspend provider",
				logger.AccountID(acct.ID), logger.Error(err))
			continue
		}
		if !changed {
			// Paid up between listing and updating.
			continue
		}
		report.Processed++
		s.log.InfoContext(ctx, "provider suspended for unpaid platform fees",
			logger.AccountID(acct.ID),
			slog.Time("overdue_since", *acct.OverdueSince),
		)
		if err := s.notifier.ProviderSuspended(ctx, acct.Email); err != nil {
			s.log.WarnContext(ctx, "suspension notice failed",
				logger.AccountID(acct.ID), logger.Error(err))
		}
	}

	s.log.InfoContext(ctx, "suspension sweep finished",
		slog.Int("processed", report.Processed), slog.Int("failed", report.Failed))
	return report, nil
}
