// Package ingest turns verified gateway webhooks into ledger mutations.
//
// Process is the single entry point. Per event it opens one store
// transaction, inserts the payment event (whose unique gateway id is the
// idempotency guard), asks the lifecycle machine for a decision, and applies
// the decision's effects: subscription row update, account mirrors, and
// commission posting. Settled outcomes (applied, duplicate, stale, unknown
// subscription, no legal transition) return nil so the HTTP layer
// acknowledges; transient failures return an error so the gateway
// redelivers into an untouched ledger.
package ingest
