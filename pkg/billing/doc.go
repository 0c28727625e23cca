// Package billing defines the payment gateway boundary and its Paddle
// implementation.
//
// The Gateway interface covers everything the ledger needs from a payment
// processor: creating and cancelling subscriptions, hosted checkouts for the
// takeover workflow, webhook signature verification, and balance retrieval.
// PaddleGateway implements it on the official Paddle SDK and normalizes
// Paddle's webhook names into the small EventType set the state machine
// understands; everything else maps to EventUnknown and is acknowledged
// without processing.
package billing
