package commission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/pkg/commission"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	t.Run("even split", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(800, 5000, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(400), split.ProviderCents)
		assert.Equal(t, int64(400), split.PlatformCents)
	})

	t.Run("rounding remainder goes to platform", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(801, 5000, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(400), split.ProviderCents)
		assert.Equal(t, int64(401), split.PlatformCents)
	})

	t.Run("gateway fee deducted before split", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(1000, 5000, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(450), split.ProviderCents)
		assert.Equal(t, int64(450), split.PlatformCents)
	})

	t.Run("zero rate keeps everything on platform", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(1299, 0, 0)
		require.NoError(t, err)
		assert.Zero(t, split.ProviderCents)
		assert.Equal(t, int64(1299), split.PlatformCents)
	})

	t.Run("full rate gives provider everything", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(1299, commission.MaxRateBps, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1299), split.ProviderCents)
		assert.Zero(t, split.PlatformCents)
	})

	t.Run("zero gross", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(0, 7000, 0)
		require.NoError(t, err)
		assert.Zero(t, split.ProviderCents)
		assert.Zero(t, split.PlatformCents)
	})

	t.Run("fee equals gross", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(250, 5000, 250)
		require.NoError(t, err)
		assert.Zero(t, split.ProviderCents)
		assert.Zero(t, split.PlatformCents)
	})

	t.Run("rejects negative gross", func(t *testing.T) {
		t.Parallel()
		_, err := commission.Calculate(-1, 5000, 0)
		assert.ErrorIs(t, err, commission.ErrNegativeInput)
	})

	t.Run("rejects negative fee", func(t *testing.T) {
		t.Parallel()
		_, err := commission.Calculate(100, 5000, -1)
		assert.ErrorIs(t, err, commission.ErrNegativeInput)
	})

	t.Run("rejects rate above 100 percent", func(t *testing.T) {
		t.Parallel()
		_, err := commission.Calculate(100, commission.MaxRateBps+1, 0)
		assert.ErrorIs(t, err, commission.ErrInvalidRate)
	})

	t.Run("rejects fee above gross", func(t *testing.T) {
		t.Parallel()
		_, err := commission.Calculate(100, 5000, 101)
		assert.ErrorIs(t, err, commission.ErrFeeExceedsGross)
	})

	t.Run("split always sums to net", func(t *testing.T) {
		t.Parallel()
		for gross := int64(0); gross <= 1000; gross += 7 {
			for _, rate := range []int32{1, 333, 2500, 3333, 5000, 9999} {
				split, err := commission.Calculate(gross, rate, 0)
				require.NoError(t, err)
				assert.Equal(t, gross, split.ProviderCents+split.PlatformCents,
					"gross=%d rate=%d", gross, rate)
			}
		}
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("accepts a consistent split", func(t *testing.T) {
		t.Parallel()
		split, err := commission.Calculate(801, 5000, 1)
		require.NoError(t, err)
		assert.NoError(t, commission.Verify(split, 801, 1))
	})

	t.Run("rejects a split that does not sum", func(t *testing.T) {
		t.Parallel()
		err := commission.Verify(commission.Split{ProviderCents: 400, PlatformCents: 400}, 801, 0)
		assert.ErrorIs(t, err, commission.ErrSplitMismatch)
	})

	t.Run("rejects negative shares", func(t *testing.T) {
		t.Parallel()
		err := commission.Verify(commission.Split{ProviderCents: -1, PlatformCents: 801}, 800, 0)
		assert.ErrorIs(t, err, commission.ErrSplitMismatch)
	})
}
