// Package jobs holds the scheduled compliance sweeps: grace-period
// deactivation for subscribers and overdue suspension for providers.
//
// Both sweeps are list-then-conditionally-flip loops. The flip re-checks its
// precondition inside the UPDATE, so a payment landing mid-sweep, a
// double-fired schedule, or a re-run after a crash all degrade to no-ops.
// A Redis run lock avoids duplicate work when the scheduler double-fires,
// and Postmark notices go out only for accounts whose state actually
// changed.
package jobs
