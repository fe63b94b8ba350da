// Package staking sizes wagers with fractional Kelly.
package staking

import (
	"github.com/alanyoungcy/wagerbot/internal/oddsmath"
)

// Reasons attached to a zero stake.
const (
	ReasonNoEdge       = "no_edge"
	ReasonBelowMinimum = "below_minimum"
	ReasonNoBankroll   = "no_bankroll"
	ReasonBadInput     = "bad_input"
)

// Params are the account-level sizing limits.
type Params struct {
	// Multiplier scales full Kelly, e.g. 0.25 for quarter Kelly.
	Multiplier float64
	// MaxFraction caps the stake as a fraction of the available balance.
	MaxFraction float64
	// MinStakeCents is the smallest stake worth placing.
	MinStakeCents int64
}

// Input describes one sizing request.
type Input struct {
	Probability    float64
	DecimalPrice   float64
	AvailableCents int64
}

// Sizing is the outcome of a sizing request. A zero StakeCents is a normal
// outcome and carries a Reason.
type Sizing struct {
	StakeCents      int64
	FullKelly       float64
	AppliedFraction float64
	Reason          string
}

// Kelly computes f* = (b*p - q) / b, scales it by the multiplier, caps it at
// MaxFraction and applies it to the available balance. A non-positive f*
// yields a zero stake.
func Kelly(in Input, params Params) Sizing {
	if in.Probability <= 0 || in.Probability >= 1 || in.DecimalPrice <= 1 {
		return Sizing{Reason: ReasonBadInput}
	}
	if in.AvailableCents <= 0 {
		return Sizing{Reason: ReasonNoBankroll}
	}

	b := in.DecimalPrice - 1.0
	p := in.Probability
	q := 1.0 - p
	full := (b*p - q) / b
	if full <= 0 {
		return Sizing{FullKelly: full, Reason: ReasonNoEdge}
	}

	applied := full * params.Multiplier
	if params.MaxFraction > 0 && applied > params.MaxFraction {
		applied = params.MaxFraction
	}
	return sized(full, applied, in.AvailableCents, params.MinStakeCents)
}

// KellyAmerican is Kelly for a price quoted in American odds.
func KellyAmerican(probability float64, american int, available int64, params Params) Sizing {
	d, err := oddsmath.AmericanToDecimal(american)
	if err != nil {
		return Sizing{Reason: ReasonBadInput}
	}
	return Kelly(Input{Probability: probability, DecimalPrice: d, AvailableCents: available}, params)
}

// Flat stakes a fixed fraction of the available balance, capped like Kelly.
func Flat(fraction float64, available int64, params Params) Sizing {
	if fraction <= 0 {
		return Sizing{Reason: ReasonBadInput}
	}
	if available <= 0 {
		return Sizing{Reason: ReasonNoBankroll}
	}
	applied := fraction
	if params.MaxFraction > 0 && applied > params.MaxFraction {
		applied = params.MaxFraction
	}
	return sized(0, applied, available, params.MinStakeCents)
}

func sized(full, applied float64, available, minStake int64) Sizing {
	stake := oddsmath.RoundCents(applied * float64(available))
	if stake > available {
		stake = available
	}
	if stake <= 0 || stake < minStake {
		return Sizing{FullKelly: full, AppliedFraction: applied, Reason: ReasonBelowMinimum}
	}
	return Sizing{StakeCents: stake, FullKelly: full, AppliedFraction: applied}
}
