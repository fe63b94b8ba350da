package domain

import (
	"fmt"
	"time"
)

// BankrollLedger is the per-account balance record. It is mutated only by
// ApplyPlacement and ApplySettlement, which stores call while holding the
// account's row lock so that
//
//	AvailableBalance + sum(pending stakes) == CurrentBalance
//
// holds after every committed change.
type BankrollLedger struct {
	AccountID        string
	CurrentBalance   int64
	AvailableBalance int64
	LifetimeWagered  int64
	LifetimeWon      int64
	LifetimeLost     int64
	Wins             int64
	Losses           int64
	Pushes           int64

	DailyLoss     int64
	DailyLossDate string

	MaxStakeFraction float64
	DailyLossCap     int64

	UpdatedAt time.Time
}

// NewLedger opens a ledger with the given starting balance.
func NewLedger(accountID string, opening int64, maxStakeFraction float64, dailyLossCap int64, at time.Time) BankrollLedger {
	return BankrollLedger{
		AccountID:        accountID,
		CurrentBalance:   opening,
		AvailableBalance: opening,
		MaxStakeFraction: maxStakeFraction,
		DailyLossCap:     dailyLossCap,
		UpdatedAt:        at,
	}
}

// PendingExposure is the total stake reserved by unsettled wagers.
func (l BankrollLedger) PendingExposure() int64 {
	return l.CurrentBalance - l.AvailableBalance
}

// ROI is lifetime net profit over lifetime amount wagered.
func (l BankrollLedger) ROI() float64 {
	if l.LifetimeWagered == 0 {
		return 0
	}
	return float64(l.LifetimeWon-l.LifetimeLost) / float64(l.LifetimeWagered)
}

// WinRate is wins over decided (won or lost) wagers.
func (l BankrollLedger) WinRate() float64 {
	decided := l.Wins + l.Losses
	if decided == 0 {
		return 0
	}
	return float64(l.Wins) / float64(decided)
}

// LossDay formats t as the local calendar day used for the daily loss
// accumulator.
func LossDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// DailyLossToday returns the accumulated loss for the local day containing
// now. A stale accumulator from a previous day counts as zero.
func (l BankrollLedger) DailyLossToday(now time.Time, loc *time.Location) int64 {
	if l.DailyLossDate != LossDay(now, loc) {
		return 0
	}
	return l.DailyLoss
}

// DailyLossBreached reports whether today's losses have reached the cap.
// A zero cap disables the check.
func (l BankrollLedger) DailyLossBreached(now time.Time, loc *time.Location) bool {
	if l.DailyLossCap <= 0 {
		return false
	}
	return l.DailyLossToday(now, loc) >= l.DailyLossCap
}

// ApplyPlacement reserves stake from the available balance.
func (l *BankrollLedger) ApplyPlacement(stake int64, at time.Time) error {
	if stake <= 0 {
		return fmt.Errorf("%w: stake must be positive, got %d", ErrInvalidWager, stake)
	}
	if stake > l.AvailableBalance {
		return fmt.Errorf("%w: stake %d exceeds available %d", ErrInsufficientBankroll, stake, l.AvailableBalance)
	}
	l.AvailableBalance -= stake
	l.LifetimeWagered += stake
	l.UpdatedAt = at
	return nil
}

// ApplySettlement releases a pending stake according to the outcome. Won
// credits the payout, pushed and cancelled return the stake, lost forfeits
// it and feeds the daily loss accumulator for the local day of at.
func (l *BankrollLedger) ApplySettlement(stake int64, status WagerStatus, payout int64, at time.Time, loc *time.Location) error {
	day := LossDay(at, loc)
	if l.DailyLossDate != day {
		l.DailyLossDate = day
		l.DailyLoss = 0
	}

	switch status {
	case WagerStatusWon:
		if payout < stake {
			return fmt.Errorf("%w: won payout %d below stake %d", ErrInvalidTransition, payout, stake)
		}
		l.AvailableBalance += payout
		l.CurrentBalance += payout - stake
		l.LifetimeWon += payout - stake
		l.Wins++
	case WagerStatusPushed:
		l.AvailableBalance += stake
		l.Pushes++
	case WagerStatusCancelled:
		l.AvailableBalance += stake
	case WagerStatusLost:
		l.CurrentBalance -= stake
		l.LifetimeLost += stake
		l.DailyLoss += stake
		l.Losses++
	default:
		return fmt.Errorf("%w: cannot settle to %s", ErrInvalidTransition, status)
	}
	l.UpdatedAt = at
	return nil
}
