package billing

import "errors"

var (
	ErrMissingAPIKey        = errors.New("billing: gateway API key is required")
	ErrMissingWebhookSecret = errors.New("billing: gateway webhook secret is required")
	ErrInvalidEnvironment   = errors.New("billing: invalid gateway environment")

	// ErrSignatureVerification marks a forged or tampered webhook payload.
	// Handled at the request boundary with a 4xx; never retried.
	ErrSignatureVerification = errors.New("billing: webhook signature verification failed")

	// ErrMalformedPayload marks a verified payload the parser cannot read.
	ErrMalformedPayload = errors.New("billing: malformed webhook payload")

	// ErrGatewayUnavailable marks a transient network/timeout failure
	// talking to the gateway. Callers surface their retry contract.
	ErrGatewayUnavailable = errors.New("billing: gateway unavailable")

	// ErrUnsupported marks an operation the configured gateway has no API for.
	ErrUnsupported = errors.New("billing: operation not supported by gateway")

	ErrInvalidRequest = errors.New("billing: invalid request")
	ErrNoCheckoutURL  = errors.New("billing: no checkout URL returned from gateway")

	ErrCatalogUnreadable = errors.New("billing: cannot read price catalog")
	ErrInvalidCatalog    = errors.New("billing: invalid price catalog")
	ErrPlanNotFound      = errors.New("billing: plan not found in catalog")
)
