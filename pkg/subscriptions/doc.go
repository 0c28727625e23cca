// Package subscriptions carries the user-initiated lifecycle commands:
// scheduling a cancellation at period end and withdrawing it before it takes
// effect. Commands talk to the gateway first, then drive the same state
// machine the webhook pipeline uses.
package subscriptions
