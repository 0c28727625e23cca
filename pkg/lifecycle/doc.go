// Package lifecycle implements the subscription state machine as an explicit
// transition table: a pure function from (state snapshot, event) to (next
// state, side-effect list). The machine performs no I/O; the ingestion
// pipeline applies the returned effects inside its own ledger transaction,
// which keeps every transition unit-testable without a gateway or database.
//
// States:
//
//	trialing → active ⇄ past_due → grace_period → (account deactivation)
//	active/past_due/grace_period → cancel_pending → cancelled
//	suspended → active (re-entry on successful payment)
//
// Out-of-order webhook delivery is handled by the monotonic event timestamp
// carried on every row: Decide rejects any event not strictly newer than the
// last applied one.
package lifecycle
