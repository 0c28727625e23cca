package money

import (
	"fmt"
	"math"
)

// Amount represents a monetary value in the smallest currency unit.
// For example, $10.99 USD is Amount{Cents: 1099, Currency: "USD"}.
// The ledger never touches floating point; all arithmetic stays in int64.
type Amount struct {
	Cents    int64
	Currency string // ISO 4217 currency code
}

// New validates and constructs an Amount. Negative cents and malformed
// currency codes are rejected before any value enters the ledger.
func New(cents int64, currency string) (Amount, error) {
	if cents < 0 {
		return Amount{}, fmt.Errorf("%w: %d", ErrNegativeAmount, cents)
	}
	if !validCurrency(currency) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return Amount{Cents: cents, Currency: currency}, nil
}

// MustNew is New that panics on invalid input. For constants and tests only.
func MustNew(cents int64, currency string) Amount {
	a, err := New(cents, currency)
	if err != nil {
		panic(err)
	}
	return a
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Amount {
	return Amount{Cents: 0, Currency: currency}
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.Cents == 0
}

// Add returns a+b, rejecting currency mismatches and int64 overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	if a.Cents > math.MaxInt64-b.Cents {
		return Amount{}, ErrOverflow
	}
	return Amount{Cents: a.Cents + b.Cents, Currency: a.Currency}, nil
}

// Sub returns a-b, rejecting currency mismatches and negative results.
// The ledger has no concept of a negative balance entry; refunds are
// modelled as separate records.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	if b.Cents > a.Cents {
		return Amount{}, fmt.Errorf("%w: %d - %d", ErrNegativeAmount, a.Cents, b.Cents)
	}
	return Amount{Cents: a.Cents - b.Cents, Currency: a.Currency}, nil
}

// String renders the amount for logs, e.g. "1099 USD".
func (a Amount) String() string {
	return fmt.Sprintf("%d %s", a.Cents, a.Currency)
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
