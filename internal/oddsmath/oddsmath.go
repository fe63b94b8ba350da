// Package oddsmath converts between price formats and computes the payout,
// probability and expected-value figures used by staking and parlay
// construction. Every function is pure.
package oddsmath

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidOdds is returned for prices outside the valid range.
var ErrInvalidOdds = errors.New("invalid odds")

// AmericanToDecimal converts American odds to decimal odds.
// +150 -> 2.50, -110 -> 1.909.
func AmericanToDecimal(american int) (float64, error) {
	if american > -100 && american < 100 {
		return 0, fmt.Errorf("%w: american %d", ErrInvalidOdds, american)
	}
	if american > 0 {
		return float64(american)/100.0 + 1.0, nil
	}
	return 100.0/float64(-american) + 1.0, nil
}

// DecimalToAmerican converts decimal odds to American odds, rounding to the
// nearest whole point.
func DecimalToAmerican(d float64) (int, error) {
	if d <= 1.0 {
		return 0, fmt.Errorf("%w: decimal %f", ErrInvalidOdds, d)
	}
	if d >= 2.0 {
		return int(math.Round((d - 1.0) * 100.0)), nil
	}
	return int(math.Round(-100.0 / (d - 1.0))), nil
}

// AmericanToImpliedProbability returns the bookmaker-implied probability.
// -110 -> 0.5238.
func AmericanToImpliedProbability(american int) (float64, error) {
	d, err := AmericanToDecimal(american)
	if err != nil {
		return 0, err
	}
	return DecimalToImpliedProbability(d)
}

// DecimalToImpliedProbability returns 1/d.
func DecimalToImpliedProbability(d float64) (float64, error) {
	if d <= 1.0 {
		return 0, fmt.Errorf("%w: decimal %f", ErrInvalidOdds, d)
	}
	return 1.0 / d, nil
}

// Edge is the model probability minus the implied probability.
func Edge(modelProbability, impliedProbability float64) float64 {
	return modelProbability - impliedProbability
}

// ExpectedValue is the expected return per unit staked: p*d - 1.
func ExpectedValue(probability, d float64) float64 {
	return probability*d - 1.0
}

// CombinedDecimal is the product of the leg prices.
func CombinedDecimal(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	out := 1.0
	for _, p := range prices {
		out *= p
	}
	return out
}

// CombinedProbability is the product of the leg probabilities, treating the
// legs as independent.
func CombinedProbability(probabilities []float64) float64 {
	if len(probabilities) == 0 {
		return 0
	}
	out := 1.0
	for _, p := range probabilities {
		out *= p
	}
	return out
}

// Payout returns the total return (stake plus profit) for a winning stake
// at decimal price d, rounded to the cent.
func Payout(stakeCents int64, d float64) int64 {
	return decimal.NewFromInt(stakeCents).
		Mul(decimal.NewFromFloat(d)).
		Round(0).
		IntPart()
}

// RoundCents rounds a fractional cent amount to the nearest cent.
func RoundCents(cents float64) int64 {
	return decimal.NewFromFloat(cents).Round(0).IntPart()
}

// FormatCents renders a cent amount as a dollar string, e.g. 4000 -> "40.00".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
