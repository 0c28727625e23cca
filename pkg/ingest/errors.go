package ingest

import "errors"

var (
	// ErrMissingEventID rejects events without a gateway id; without it
	// there is no deduplication key.
	ErrMissingEventID = errors.New("ingest: event has no gateway event id")

	// ErrNoTakeoverCompleter means a takeover confirmation arrived but no
	// completion hook was wired. Returned as transient so the delivery is
	// retried once the deployment is fixed.
	ErrNoTakeoverCompleter = errors.New("ingest: takeover completer not configured")
)
