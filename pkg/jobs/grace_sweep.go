package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/logger"
)

const graceLockName = "grace-period"

// GraceSweeper deactivates subscriber accounts whose grace deadline has
// passed without payment. Designed for a daily schedule but safe at any
// cadence: the flip is a conditional update, so re-runs and double-fires
// change nothing.
type GraceSweeper struct {
	store    ledger.Store
	notifier Notifier
	locker   Locker
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// NewGraceSweeper creates the grace-period sweep.
func NewGraceSweeper(store ledger.Store, notifier Notifier, locker Locker, cfg Config, log *slog.Logger) *GraceSweeper {
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
	return &GraceSweeper{
		store:    store,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		log:      log.With(logger.Component("grace-sweep")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the sweep's wall clock for tests.
func (s *GraceSweeper) WithClock(now func() time.Time) *GraceSweeper {
	s.now = now
	return s
}

// Run executes one sweep. Per-account failures are counted and logged but
// never abort the run; one broken row must not shield the rest of the batch.
func (s *GraceSweeper) Run(ctx context.Context) (Report, error) {
	ok, err := s.locker.Acquire(ctx, graceLockName, s.cfg.LockTTL)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, ErrSweepAlreadyRunning
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), graceLockName); err != nil {
			s.log.WarnContext(ctx, "failed to release run lock", logger.Error(err))
		}
	}()

	now := s.now()
	accounts, err := s.store.ListDeactivatableAccounts(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, acct := range accounts {
		changed, err := s.store.DeactivateAccount(ctx, acct.ID, now)
		if err != nil {
			report.Failed++
			s.log.ErrorContext(ctx, "failed to deactivate account",
				logger.AccountID(acct.ID), logger.Error(err))
			continue
		}
		if !changed {
			// A payment closed the grace window between listing and
			// updating; nothing to do.
			continue
		}
		report.Processed++
		s.log.InfoContext(ctx, "account deactivated after grace period",
			logger.AccountID(acct.ID),
			slog.Time("grace_deadline", *acct.GraceDeadline),
		)
		if err := s.notifier.AccountDeactivated(ctx, acct.Email); err != nil {
			s.log.WarnContext(ctx, "deactivation notice failed",
				logger.AccountID(acct.ID), logger.Error(err))
		}
	}

	s.log.InfoContext(ctx, "grace sweep finished",
		slog.Int("processed", report.Processed), slog.Int("failed", report.Failed))
	return report, nil
}
