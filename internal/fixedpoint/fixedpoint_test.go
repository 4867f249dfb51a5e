package fixedpoint_test

import (
	"math"
	"testing"

	"github.com/Anyawb/lendrisk/internal/fixedpoint"
)

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDiv_RoundDown(t *testing.T) {
	// 7 * 3 / 2 = 10.5 -> 10
	got := fixedpoint.MulDiv(7, 3, 2, fixedpoint.RoundDown)
	if got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

func TestMulDiv_RoundHalfEven(t *testing.T) {
	// 5 / 2 = 2.5 -> rounds to even 2
	if got := fixedpoint.MulDiv(5, 1, 2, fixedpoint.RoundHalfEven); got != 2 {
		t.Errorf("2.5 should round to 2, got %d", got)
	}
	// 7 / 2 = 3.5 -> rounds to even 4
	if got := fixedpoint.MulDiv(7, 1, 2, fixedpoint.RoundHalfEven); got != 4 {
		t.Errorf("3.5 should round to 4, got %d", got)
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// a*b overflows int64; the int128 intermediate must carry it.
	a := int64(5_000_000_000_000)
	b := int64(3_000_000)
	got := fixedpoint.MulDiv(a, b, 1_000_000, fixedpoint.RoundDown)
	if got != 15_000_000_000_000 {
		t.Errorf("got %d, want 15_000_000_000_000", got)
	}
}

func TestMulDiv_SaturatesOnOverflow(t *testing.T) {
	// 1e18 * 1e6 / 1 does not fit int64: saturate instead of wrapping.
	got := fixedpoint.MulDiv(1_000_000_000_000_000_000, 1_000_000, 1, fixedpoint.RoundDown)
	if got != math.MaxInt64 {
		t.Errorf("got %d, want MaxInt64", got)
	}
	got = fixedpoint.MulDiv(-1_000_000_000_000_000_000, 1_000_000, 1, fixedpoint.RoundDown)
	if got != math.MinInt64 {
		t.Errorf("got %d, want MinInt64", got)
	}
}

// ============================================================================
// Test: BpsOf
// ============================================================================

func TestBpsOf_FloorsPayout(t *testing.T) {
	// 333 * 500 / 10000 = 16.65 -> 16
	if got := fixedpoint.BpsOf(333, 500); got != 16 {
		t.Errorf("got %d, want 16", got)
	}
}

func TestBpsOf_FullRate(t *testing.T) {
	if got := fixedpoint.BpsOf(1_000_000, 10_000); got != 1_000_000 {
		t.Errorf("10000 bps of 1_000_000 should be 1_000_000, got %d", got)
	}
}

func TestBpsOf_ZeroRate(t *testing.T) {
	if got := fixedpoint.BpsOf(1_000_000, 0); got != 0 {
		t.Errorf("0 bps should pay 0, got %d", got)
	}
}

// ============================================================================
// Test: Ratio
// ============================================================================

func TestRatio_Basic(t *testing.T) {
	// 150 / 100 at 1e6 scale = 1_500_000
	got := fixedpoint.Ratio(150, 100, fixedpoint.RatioConfig.Scale)
	if got != 1_500_000 {
		t.Errorf("got %d, want 1_500_000", got)
	}
}

func TestRatio_ZeroDenominator(t *testing.T) {
	if got := fixedpoint.Ratio(100, 0, fixedpoint.RatioConfig.Scale); got != 0 {
		t.Errorf("zero denominator should yield 0, got %d", got)
	}
}

func TestRatio_RoundsDown(t *testing.T) {
	// 1 / 3 at 1e6 scale = 333333.33 -> 333333
	got := fixedpoint.Ratio(1, 3, fixedpoint.RatioConfig.Scale)
	if got != 333_333 {
		t.Errorf("got %d, want 333_333", got)
	}
}
