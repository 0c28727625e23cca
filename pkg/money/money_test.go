package money_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/pkg/money"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid amount", func(t *testing.T) {
		t.Parallel()
		a, err := money.New(1099, "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(1099), a.Cents)
		assert.Equal(t, "USD", a.Currency)
	})

	t.Run("rejects negative cents", func(t *testing.T) {
		t.Parallel()
		_, err := money.New(-1, "USD")
		assert.ErrorIs(t, err, money.ErrNegativeAmount)
	})

	t.Run("rejects malformed currency", func(t *testing.T) {
		t.Parallel()
		for _, code := range []string{"", "US", "usd", "USDX", "U$D"} {
			_, err := money.New(100, code)
			assert.ErrorIs(t, err, money.ErrInvalidCurrency, "code %q", code)
		}
	})
}

func TestAmountArithmetic(t *testing.T) {
	t.Parallel()

	t.Run("add", func(t *testing.T) {
		t.Parallel()
		sum, err := money.MustNew(100, "USD").Add(money.MustNew(250, "USD"))
		require.NoError(t, err)
		assert.Equal(t, money.MustNew(350, "USD"), sum)
	})

	t.Run("add rejects currency mismatch", func(t *testing.T) {
		t.Parallel()
		_, err := money.MustNew(100, "USD").Add(money.MustNew(100, "EUR"))
		assert.ErrorIs(t, err, money.ErrCurrencyMismatch)
	})

	t.Run("add rejects overflow", func(t *testing.T) {
		t.Parallel()
		_, err := money.MustNew(math.MaxInt64, "USD").Add(money.MustNew(1, "USD"))
		assert.ErrorIs(t, err, money.ErrOverflow)
	})

	t.Run("sub", func(t *testing.T) {
		t.Parallel()
		diff, err := money.MustNew(250, "USD").Sub(money.MustNew(100, "USD"))
		require.NoError(t, err)
		assert.Equal(t, money.MustNew(150, "USD"), diff)
	})

	t.Run("sub rejects negative result", func(t *testing.T) {
		t.Parallel()
		_, err := money.MustNew(100, "USD").Sub(money.MustNew(101, "USD"))
		assert.ErrorIs(t, err, money.ErrNegativeAmount)
	})

	t.Run("zero", func(t *testing.T) {
		t.Parallel()
		assert.True(t, money.Zero("USD").IsZero())
		assert.False(t, money.MustNew(1, "USD").IsZero())
	})
}
