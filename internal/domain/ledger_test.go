package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkInvariant(t *testing.T, l BankrollLedger, pending int64) {
	t.Helper()
	assert.Equal(t, l.CurrentBalance, l.AvailableBalance+pending, "available + pending must equal current")
}

func TestLedger_PlaceAndSettle(t *testing.T) {
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	l := NewLedger("acct", 100_000, 0.05, 0, at)

	require.NoError(t, l.ApplyPlacement(4_000, at))
	require.NoError(t, l.ApplyPlacement(2_000, at))
	assert.Equal(t, int64(94_000), l.AvailableBalance)
	assert.Equal(t, int64(6_000), l.LifetimeWagered)
	checkInvariant(t, l, 6_000)

	// Won at -110: 4000 * 1.909090 = 7636.
	require.NoError(t, l.ApplySettlement(4_000, WagerStatusWon, 7_636, at, time.UTC))
	checkInvariant(t, l, 2_000)
	assert.Equal(t, int64(103_636), l.CurrentBalance)
	assert.Equal(t, int64(3_636), l.LifetimeWon)

	require.NoError(t, l.ApplySettlement(2_000, WagerStatusLost, 0, at, time.UTC))
	checkInvariant(t, l, 0)
	assert.Equal(t, int64(101_636), l.CurrentBalance)
	assert.Equal(t, int64(2_000), l.DailyLoss)
	assert.Equal(t, int64(1), l.Wins)
	assert.Equal(t, int64(1), l.Losses)
	assert.InDelta(t, 0.5, l.WinRate(), 1e-9)
	assert.InDelta(t, float64(1_636)/6_000, l.ROI(), 1e-9)
}

func TestLedger_PushAndCancelReturnStake(t *testing.T) {
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	l := NewLedger("acct", 10_000, 0.05, 0, at)

	require.NoError(t, l.ApplyPlacement(500, at))
	require.NoError(t, l.ApplyPlacement(700, at))
	require.NoError(t, l.ApplySettlement(500, WagerStatusPushed, 500, at, time.UTC))
	require.NoError(t, l.ApplySettlement(700, WagerStatusCancelled, 0, at, time.UTC))

	assert.Equal(t, int64(10_000), l.CurrentBalance)
	assert.Equal(t, int64(10_000), l.AvailableBalance)
	assert.Equal(t, int64(1), l.Pushes)
	checkInvariant(t, l, 0)
}

func TestLedger_InsufficientBankroll(t *testing.T) {
	l := NewLedger("acct", 1_000, 0.05, 0, time.Now())
	err := l.ApplyPlacement(1_001, time.Now())
	assert.True(t, errors.Is(err, ErrInsufficientBankroll))
	assert.Equal(t, int64(1_000), l.AvailableBalance)
}

func TestLedger_DailyLossResetsAtLocalMidnight(t *testing.T) {
	ny := time.FixedZone("EST", -5*60*60)

	evening := time.Date(2026, 3, 1, 23, 0, 0, 0, ny)
	l := NewLedger("acct", 10_000, 0.05, 1_000, evening)

	require.NoError(t, l.ApplyPlacement(1_000, evening))
	require.NoError(t, l.ApplySettlement(1_000, WagerStatusLost, 0, evening, ny))
	assert.True(t, l.DailyLossBreached(evening, ny))

	nextMorning := time.Date(2026, 3, 2, 0, 30, 0, 0, ny)
	assert.False(t, l.DailyLossBreached(nextMorning, ny))
	assert.Equal(t, int64(0), l.DailyLossToday(nextMorning, ny))

	require.NoError(t, l.ApplyPlacement(200, nextMorning))
	require.NoError(t, l.ApplySettlement(200, WagerStatusLost, 0, nextMorning, ny))
	assert.Equal(t, int64(200), l.DailyLoss)
	assert.Equal(t, "2026-03-02", l.DailyLossDate)
}

func TestLedger_RejectsBadSettlement(t *testing.T) {
	l := NewLedger("acct", 10_000, 0.05, 0, time.Now())
	require.NoError(t, l.ApplyPlacement(1_000, time.Now()))

	err := l.ApplySettlement(1_000, WagerStatusPending, 0, time.Now(), time.UTC)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = l.ApplySettlement(1_000, WagerStatusWon, 900, time.Now(), time.UTC)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
