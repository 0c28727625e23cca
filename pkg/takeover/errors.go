package takeover

import "errors"

var (
	ErrInvalidType        = errors.New("takeover: invalid takeover type")
	ErrSelfTakeover       = errors.New("takeover: account cannot take over its own billing")
	ErrAccountDeactivated = errors.New("takeover: target account is deactivated")

	// ErrAlreadyClaimed means another takeover moved the payer pointer
	// between this one's initiation and its payment confirmation.
	ErrAlreadyClaimed = errors.New("takeover: billing payer already claimed")

	// ErrBadMetadata means a checkout confirmation arrived without the
	// metadata Complete needs to act on it.
	ErrBadMetadata = errors.New("takeover: malformed checkout metadata")
)
