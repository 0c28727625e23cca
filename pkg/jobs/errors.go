package jobs

import "errors"

// ErrSweepAlreadyRunning means another instance holds the run lock. The
// caller reports it as a skipped run, not a failure.
var ErrSweepAlreadyRunning = errors.New("jobs: sweep already running")
