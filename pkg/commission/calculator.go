package commission

import (
	"fmt"
	"math"
)

// MaxRateBps is the maximum commission rate: 10000 basis points = 100%.
const MaxRateBps = 10000

// Split is the deterministic division of a net payment between the provider
// who delivered the work and the platform.
type Split struct {
	ProviderCents int64
	PlatformCents int64
}

// Calculate splits a gross payment between provider and platform.
//
// grossCents is the payment as reported by the gateway, rateBps the
// provider's commission rate snapshot in basis points (0..10000), and
// feeCents an optional gateway processing fee already withheld from the
// gross. The result always satisfies
//
//	ProviderCents + PlatformCents == grossCents - feeCents
//
// exactly. Integer division floors the provider share, so any rounding
// remainder lands on the platform side; providers are never shorted a cent
// they are owed by rounding.
//
// A subscription without a provider is expressed as rateBps == 0: the whole
// net amount is retained by the platform.
func Calculate(grossCents int64, rateBps int32, feeCents int64) (Split, error) {
	if grossCents < 0 {
		return Split{}, fmt.Errorf("%w: gross %d", ErrNegativeInput, grossCents)
	}
	if feeCents < 0 {
		return Split{}, fmt.Errorf("%w: fee %d", ErrNegativeInput, feeCents)
	}
	if rateBps < 0 || rateBps > MaxRateBps {
		return Split{}, fmt.Errorf("%w: %d bps", ErrInvalidRate, rateBps)
	}
	if feeCents > grossCents {
		return Split{}, fmt.Errorf("%w: fee %d exceeds gross %d", ErrFeeExceedsGross, feeCents, grossCents)
	}

	net := grossCents - feeCents

	// net*rateBps must not overflow int64. net is bounded well below any
	// realistic payment, but the gateway payload is untrusted input.
	if net > math.MaxInt64/MaxRateBps {
		return Split{}, fmt.Errorf("%w: net %d", ErrOverflow, net)
	}

	provider := net * int64(rateBps) / MaxRateBps
	platform := net - provider

	return Split{ProviderCents: provider, PlatformCents: platform}, nil
}

// Verify re-checks the fundamental split invariant. Callers posting a
// commission record run this before committing; a failure means corrupted
// state and must abort the enclosing transaction.
func Verify(s Split, grossCents, feeCents int64) error {
	if s.ProviderCents < 0 || s.PlatformCents < 0 {
		return fmt.Errorf("%w: negative share in %+v", ErrSplitMismatch, s)
	}
	if s.ProviderCents+s.PlatformCents != grossCents-feeCents {
		return fmt.Errorf("%w: %d + %d != %d - %d",
			ErrSplitMismatch, s.ProviderCents, s.PlatformCents, grossCents, feeCents)
	}
	return nil
}
