// Package ledger is the system of record: accounts, subscriptions, the
// append-only payment event log, posted commission splits, and takeover
// audit records.
//
// Two properties carry the correctness story. First, the payment event log's
// unique gateway event id is inserted in the same transaction as every
// mutation derived from the event, so a redelivered webhook either replays
// into ErrDuplicateEvent or reapplies nothing. Second, every state-changing
// update is conditional on what the caller observed (last_event_at for
// subscription rows, the current payer pointer for takeovers, the sweep
// preconditions for account flips), so concurrent writers lose cleanly with
// ErrConflict or a no-op instead of clobbering each other.
//
// PGStore is the production implementation on pgx; MemoryStore is a
// transactional in-memory fake for tests.
package ledger
