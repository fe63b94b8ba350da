package parlay

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/oddsmath"
)

// ErrNoParlay is returned when no combination satisfies the tier.
var ErrNoParlay = errors.New("parlay: no viable combination")

// Tier describes one configured parlay size and its quality floors.
type Tier struct {
	Name                   string
	LegCount               int
	MinLegs                int
	MaxLegs                int
	MinLegConfidence       float64
	MinLegEdge             float64
	MinCombinedProbability float64
	// StakeFraction is the flat share of the available balance staked when
	// Kelly finds no edge in the combination.
	StakeFraction float64
}

func (t Tier) minLegs() int {
	if t.MinLegs < 2 {
		return 2
	}
	return t.MinLegs
}

// Warning flags a property of a built parlay that the caller may want to
// act on.
type Warning struct {
	Kind          string
	GameID        string
	PredictionIDs []string
}

// WarningSameGame marks legs drawn from the same game.
const WarningSameGame = "same_game"

// Parlay is a built combination.
type Parlay struct {
	Tier                string
	Strategy            string
	Legs                []Candidate
	CombinedDecimal     float64
	CombinedProbability float64
	ExpectedValue       float64
	Warnings            []Warning
}

// HasConflict reports whether any legs share a game.
func (p Parlay) HasConflict() bool {
	for _, w := range p.Warnings {
		if w.Kind == WarningSameGame {
			return true
		}
	}
	return false
}

// buildOpts toggles the quality floors between strict and relaxed builds.
type buildOpts struct {
	legFloors        bool
	probabilityFloor bool
}

// combine runs the shared construction steps: filter, rank, select the top
// N, compute the combined figures and gate on the probability floor.
func combine(pool []Candidate, tier Tier, target int, opts buildOpts) (Parlay, error) {
	filtered := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if opts.legFloors {
			if c.Confidence < tier.MinLegConfidence || c.Edge < tier.MinLegEdge {
				continue
			}
		}
		filtered = append(filtered, c)
	}

	least := tier.minLegs()
	if len(filtered) < least {
		return Parlay{}, fmt.Errorf("%w: tier %s needs %d legs, %d eligible", ErrNoParlay, tier.Name, least, len(filtered))
	}

	// A target is the tier's exact size. Without one, take up to MaxLegs.
	n := target
	if n <= 0 {
		n = min(max(tier.MaxLegs, least), len(filtered))
	}
	if n < least {
		n = least
	}
	if n > len(filtered) {
		return Parlay{}, fmt.Errorf("%w: tier %s needs %d legs, %d eligible", ErrNoParlay, tier.Name, n, len(filtered))
	}

	legs := Rank(filtered)[:n]

	prices := make([]float64, n)
	probs := make([]float64, n)
	for i, l := range legs {
		prices[i] = l.DecimalPrice
		probs[i] = l.Probability
	}
	d := oddsmath.CombinedDecimal(prices)
	p := oddsmath.CombinedProbability(probs)

	if opts.probabilityFloor && p < tier.MinCombinedProbability {
		return Parlay{}, fmt.Errorf("%w: tier %s combined probability %.4f below %.4f",
			ErrNoParlay, tier.Name, p, tier.MinCombinedProbability)
	}

	return Parlay{
		Tier:                tier.Name,
		Legs:                legs,
		CombinedDecimal:     d,
		CombinedProbability: p,
		ExpectedValue:       oddsmath.ExpectedValue(p, d),
		Warnings:            sameGameWarnings(legs),
	}, nil
}

func sameGameWarnings(legs []Candidate) []Warning {
	byGame := make(map[string][]string)
	var order []string
	for _, l := range legs {
		if _, ok := byGame[l.GameID]; !ok {
			order = append(order, l.GameID)
		}
		byGame[l.GameID] = append(byGame[l.GameID], l.PredictionID)
	}
	var out []Warning
	for _, g := range order {
		if ids := byGame[g]; len(ids) > 1 {
			out = append(out, Warning{Kind: WarningSameGame, GameID: g, PredictionIDs: ids})
		}
	}
	return out
}
