// Package billingapi is the HTTP surface of the commission ledger: the
// gateway webhook endpoint, token-guarded triggers for the scheduled
// sweeps, subscription cancel/resume commands, takeover initiation, and
// provider balance lookup.
//
// The webhook endpoint's status codes drive the gateway's retry behavior:
// 2xx settles a delivery whether it was applied or discarded, 4xx rejects
// forged or malformed payloads permanently, and 5xx means nothing was
// committed and the delivery should come again.
package billingapi
