package jobs

import "time"

// Config tunes the daily sweeps.
type Config struct {
	// BatchSize bounds how many accounts one sweep run touches.
	BatchSize int `env:"SWEEP_BATCH_SIZE" envDefault:"500"`

	// OverdueThreshold is how long a provider may stay overdue before the
	// suspension sweep acts. Independent from the subscriber grace window.
	OverdueThreshold time.Duration `env:"PROVIDER_OVERDUE_THRESHOLD" envDefault:"2160h"` // 90 days

	// LockTTL caps how long a sweep's run lock is held; a crashed run's
	// lock expires instead of blocking the next day's sweep.
	LockTTL time.Duration `env:"SWEEP_LOCK_TTL" envDefault:"30m"`
}
