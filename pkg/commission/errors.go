package commission

import "errors"

var (
	ErrNegativeInput   = errors.New("commission: negative input")
	ErrInvalidRate     = errors.New("commission: rate out of 0..10000 bps range")
	ErrFeeExceedsGross = errors.New("commission: processing fee exceeds gross amount")
	ErrOverflow        = errors.New("commission: amount too large")
	ErrSplitMismatch   = errors.New("commission: split does not sum to net amount")
)
