package domain

import (
	"fmt"
	"time"
)

// WagerStatus is the lifecycle state of a wager or parlay leg.
type WagerStatus string

const (
	WagerStatusPending   WagerStatus = "pending"
	WagerStatusWon       WagerStatus = "won"
	WagerStatusLost      WagerStatus = "lost"
	WagerStatusPushed    WagerStatus = "pushed"
	WagerStatusCancelled WagerStatus = "cancelled"
)

// Terminal reports whether the status is a settled state.
func (s WagerStatus) Terminal() bool {
	switch s {
	case WagerStatusWon, WagerStatusLost, WagerStatusPushed, WagerStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s WagerStatus) Valid() bool {
	return s == WagerStatusPending || s.Terminal()
}

// Strategy names recorded on placed wagers.
const (
	StrategySingle  = "single"
	StrategyStrict  = "strict"
	StrategyRelaxed = "relaxed"
)

// Wager is a placed bet. For parlays, Legs carries the selections and
// DecimalPrice/Probability hold the combined values.
type Wager struct {
	ID           string
	AccountID    string
	Type         WagerType
	Sport        string
	GameID       string
	HomeTeam     string
	AwayTeam     string
	PredictionID string
	Selection    string
	Line         *float64

	StakeCents    int64
	PriceAmerican int
	DecimalPrice  float64
	Probability   float64

	Status      WagerStatus
	PayoutCents *int64
	PlacedAt    time.Time
	SettledAt   *time.Time
	ExecutionID string

	Strategy string
	LegCount int
	Legs     []ParlayLeg
}

// IsParlay reports whether the wager is a multi-leg combination.
func (w Wager) IsParlay() bool {
	return w.Type == WagerTypeParlay
}

// Check validates the structural invariants a wager must satisfy before it
// can be persisted.
func (w Wager) Check() error {
	if w.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidWager)
	}
	if w.AccountID == "" {
		return fmt.Errorf("%w: missing account", ErrInvalidWager)
	}
	if w.StakeCents <= 0 {
		return fmt.Errorf("%w: stake must be positive, got %d", ErrInvalidWager, w.StakeCents)
	}
	if w.DecimalPrice <= 1 {
		return fmt.Errorf("%w: decimal price must exceed 1, got %f", ErrInvalidWager, w.DecimalPrice)
	}
	if w.Status != WagerStatusPending {
		return fmt.Errorf("%w: new wager must be pending, got %s", ErrInvalidWager, w.Status)
	}
	if w.IsParlay() {
		if len(w.Legs) < 2 {
			return fmt.Errorf("%w: parlay needs at least 2 legs, got %d", ErrInvalidWager, len(w.Legs))
		}
		if w.LegCount != len(w.Legs) {
			return fmt.Errorf("%w: leg count %d does not match %d legs", ErrInvalidWager, w.LegCount, len(w.Legs))
		}
	}
	return nil
}

// ParlayLeg is one selection inside a parlay. WagerID refers back to the
// parent; legs are owned exclusively by their parent wager.
type ParlayLeg struct {
	ID            string
	WagerID       string
	PredictionID  string
	Sport         string
	GameID        string
	HomeTeam      string
	AwayTeam      string
	WagerType     WagerType
	Selection     string
	Line          *float64
	PriceAmerican int
	DecimalPrice  float64
	Probability   float64
	Result        WagerStatus
}

// ResolveParlay folds leg results into the parent outcome. A single lost leg
// decides the parlay immediately. Otherwise the parlay stays pending until
// every leg resolves; pushed and cancelled legs drop out of the price, and
// a parlay whose legs all dropped out is pushed. The returned price is the
// product of the winning legs' decimal prices.
func ResolveParlay(legs []ParlayLeg) (WagerStatus, float64) {
	for _, l := range legs {
		if l.Result == WagerStatusLost {
			return WagerStatusLost, 0
		}
	}

	price := 1.0
	won := 0
	for _, l := range legs {
		switch l.Result {
		case WagerStatusWon:
			price *= l.DecimalPrice
			won++
		case WagerStatusPushed, WagerStatusCancelled:
		default:
			return WagerStatusPending, 0
		}
	}
	if won == 0 {
		return WagerStatusPushed, 1
	}
	return WagerStatusWon, price
}

// Settlement is a terminal transition applied atomically to a wager and its
// account ledger.
type Settlement struct {
	WagerID     string
	Status      WagerStatus
	PayoutCents int64
	SettledAt   time.Time

	// Location selects the calendar used for the daily loss accumulator.
	Location *time.Location
}

// WagerEvent is published on the signal bus when a wager changes state.
type WagerEvent struct {
	Kind        string      `json:"kind"`
	WagerID     string      `json:"wager_id"`
	AccountID   string      `json:"account_id"`
	Type        WagerType   `json:"type"`
	Status      WagerStatus `json:"status"`
	StakeCents  int64       `json:"stake_cents"`
	PayoutCents int64       `json:"payout_cents,omitempty"`
	Strategy    string      `json:"strategy,omitempty"`
	LegCount    int         `json:"leg_count,omitempty"`
	At          time.Time   `json:"at"`
}
