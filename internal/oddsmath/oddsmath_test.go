package oddsmath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmericanToDecimal(t *testing.T) {
	tests := []struct {
		name     string
		american int
		want     float64
	}{
		{"even +100", 100, 2.0},
		{"underdog +150", 150, 2.5},
		{"favorite -110", -110, 1.909090909},
		{"favorite -200", -200, 1.5},
		{"even -100", -100, 2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmericanToDecimal(tt.american)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestAmericanToDecimal_Invalid(t *testing.T) {
	for _, american := range []int{0, 50, -99} {
		_, err := AmericanToDecimal(american)
		assert.True(t, errors.Is(err, ErrInvalidOdds), "american %d", american)
	}
}

func TestDecimalToAmerican(t *testing.T) {
	tests := []struct {
		d    float64
		want int
	}{
		{2.0, 100},
		{2.5, 150},
		{1.909090909, -110},
		{1.5, -200},
	}
	for _, tt := range tests {
		got, err := DecimalToAmerican(tt.d)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := DecimalToAmerican(1.0)
	assert.Error(t, err)
}

func TestImpliedProbability(t *testing.T) {
	p, err := AmericanToImpliedProbability(-110)
	require.NoError(t, err)
	assert.InDelta(t, 0.5238, p, 1e-4)

	p, err = AmericanToImpliedProbability(150)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, p, 1e-9)
}

func TestCombinedRoundTrip(t *testing.T) {
	prices := []float64{1.8, 1.8, 1.8, 1.8, 1.8, 1.8}
	probs := []float64{0.65, 0.65, 0.65, 0.65, 0.65, 0.65}

	d := CombinedDecimal(prices)
	p := CombinedProbability(probs)
	assert.InDelta(t, 34.012224, d, 1e-6)
	assert.InDelta(t, 0.0754188, p, 1e-6)
	assert.InDelta(t, p*d-1, ExpectedValue(p, d), 1e-12)

	// Combined price is the plain product of legs in any order.
	reversed := []float64{1.5, 2.1, 3.0}
	assert.InDelta(t, 1.5*2.1*3.0, CombinedDecimal(reversed), 1e-12)
	assert.Equal(t, 0.0, CombinedDecimal(nil))
}

func TestPayout(t *testing.T) {
	assert.Equal(t, int64(7636), Payout(4000, 1.909090909))
	assert.Equal(t, int64(20000), Payout(10000, 2.0))
	assert.Equal(t, int64(5000), Payout(5000, 1.0))
}

func TestRoundCents(t *testing.T) {
	assert.Equal(t, int64(4000), RoundCents(3999.9999999))
	assert.Equal(t, int64(13), RoundCents(12.5))
	assert.Equal(t, "40.00", FormatCents(4000))
	assert.Equal(t, "0.05", FormatCents(5))
}
