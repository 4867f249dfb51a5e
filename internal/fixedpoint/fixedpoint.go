package fixedpoint

import (
	"math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	ValueConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // collateral/debt values
	RatioConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // health factor / LTV
	PriceConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}
)

// BpsDenominator is the basis-point scale used for rate parameters.
const BpsDenominator = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding. Quotients
// outside the int64 range saturate to MaxInt64 / MinInt64 instead of
// wrapping.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	var result int64
	if !quotient.IsInt64() {
		if quotient.Sign() < 0 {
			result = math.MinInt64
		} else {
			result = math.MaxInt64
		}
	} else {
		result = quotient.Int64()

		if roundingMode == RoundHalfEven {
			// Banker's rounding: if remainder == denominator/2, round to even
			half := big.NewInt(denominator / 2)
			cmp := remainder.Cmp(half)

			if cmp > 0 {
				result++
			} else if cmp == 0 && denominator%2 == 0 {
				if result%2 != 0 {
					result++
				}
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncation (default for payouts)
	RoundHalfEven                 // Banker's rounding
	RoundUp
)

// MulDiv computes a * b / denominator through an int128 intermediate.
// Used for ratio and bonus arithmetic where a*b can exceed int64.
func MulDiv(a, b, denominator int64, roundingMode RoundingMode) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, denominator, roundingMode)
	putInt128(num)
	return result
}

// BpsOf computes floor(amount * rateBps / 10_000).
// Payout amounts always round down so the system never over-pays.
func BpsOf(amount, rateBps int64) int64 {
	return MulDiv(amount, rateBps, BpsDenominator, RoundDown)
}

// Ratio computes numerator * scale / denominator rounded down.
func Ratio(numerator, denominator, scale int64) int64 {
	if denominator == 0 {
		return 0
	}
	return MulDiv(numerator, scale, denominator, RoundDown)
}
