// Package takeover implements the billing-takeover workflow: a candidate
// payer assumes responsibility for another account's recurring payments,
// optionally taking full ownership.
//
// The workflow is two-phase. Initiate snapshots the current payer pointer
// into gateway checkout metadata and hands the candidate a hosted checkout;
// the ledger is untouched. Complete runs inside the webhook ingestion
// transaction when the checkout's payment confirms, and claims the pointer
// with a conditional update against the snapshot. Concurrent takeovers for
// the same account therefore race on the pointer, and exactly one wins.
package takeover
