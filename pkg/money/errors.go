package money

import "errors"

var (
	ErrNegativeAmount  = errors.New("money: amount cannot be negative")
	ErrInvalidCurrency = errors.New("money: invalid ISO 4217 currency code")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	ErrOverflow        = errors.New("money: amount overflows int64")
)
