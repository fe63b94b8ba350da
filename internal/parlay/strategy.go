package parlay

import "github.com/alanyoungcy/wagerbot/internal/domain"

// Strategy builds a parlay for a tier from a candidate pool.
type Strategy interface {
	Name() string
	Build(pool []Candidate, tier Tier, target int) (Parlay, error)
}

// Unfloored is implemented by strategies that build from the date-filtered
// pool rather than the pool that cleared the caller's edge and confidence
// floors.
type Unfloored interface {
	Unfloored() bool
}

// Strict applies the tier's per-leg confidence and edge floors and rejects
// combinations below the tier's combined probability floor.
type Strict struct{}

// Name implements Strategy.
func (Strict) Name() string { return domain.StrategyStrict }

// Build implements Strategy.
func (s Strict) Build(pool []Candidate, tier Tier, target int) (Parlay, error) {
	p, err := combine(pool, tier, target, buildOpts{legFloors: true, probabilityFloor: true})
	if err != nil {
		return Parlay{}, err
	}
	p.Strategy = s.Name()
	return p, nil
}

// Relaxed ranks the whole pool without per-leg floors or a combined
// probability floor. It is the fallback that keeps a daily parlay possible.
type Relaxed struct{}

// Name implements Strategy.
func (Relaxed) Name() string { return domain.StrategyRelaxed }

// Unfloored implements Unfloored.
func (Relaxed) Unfloored() bool { return true }

// Build implements Strategy.
func (r Relaxed) Build(pool []Candidate, tier Tier, target int) (Parlay, error) {
	p, err := combine(pool, tier, target, buildOpts{})
	if err != nil {
		return Parlay{}, err
	}
	p.Strategy = r.Name()
	return p, nil
}

var (
	_ Strategy  = Strict{}
	_ Strategy  = Relaxed{}
	_ Unfloored = Relaxed{}
)
