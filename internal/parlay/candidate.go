// Package parlay assembles tiered multi-leg combinations from a pool of
// validated predictions.
package parlay

import (
	"sort"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/oddsmath"
)

// Candidate is a prediction that can serve as a parlay leg.
type Candidate struct {
	PredictionID  string
	Sport         string
	GameID        string
	HomeTeam      string
	AwayTeam      string
	WagerType     domain.WagerType
	Selection     string
	Line          *float64
	PriceAmerican int
	DecimalPrice  float64
	Probability   float64
	Edge          float64
	Confidence    float64
	StartTime     time.Time
}

// Score is confidence times edge.
func (c Candidate) Score() float64 {
	return c.Confidence * c.Edge
}

// CandidateFrom converts a prediction into a candidate. It reports false when
// the record has no usable price or probability.
func CandidateFrom(rec domain.PredictionRecord) (Candidate, bool) {
	d, err := oddsmath.AmericanToDecimal(rec.PriceAmerican)
	if err != nil {
		return Candidate{}, false
	}
	p, ok := rec.Probability()
	if !ok || p <= 0 || p >= 1 {
		return Candidate{}, false
	}
	return Candidate{
		PredictionID:  rec.Key(),
		Sport:         rec.Sport,
		GameID:        rec.GameID,
		HomeTeam:      rec.HomeTeam,
		AwayTeam:      rec.AwayTeam,
		WagerType:     rec.WagerType,
		Selection:     rec.Selection,
		Line:          rec.Line,
		PriceAmerican: rec.PriceAmerican,
		DecimalPrice:  d,
		Probability:   p,
		Edge:          rec.EdgeValue(),
		Confidence:    rec.ConfidenceValue(),
		StartTime:     rec.StartTime,
	}, true
}

// Leg converts the candidate into a pending parlay leg.
func (c Candidate) Leg() domain.ParlayLeg {
	return domain.ParlayLeg{
		PredictionID:  c.PredictionID,
		Sport:         c.Sport,
		GameID:        c.GameID,
		HomeTeam:      c.HomeTeam,
		AwayTeam:      c.AwayTeam,
		WagerType:     c.WagerType,
		Selection:     c.Selection,
		Line:          c.Line,
		PriceAmerican: c.PriceAmerican,
		DecimalPrice:  c.DecimalPrice,
		Probability:   c.Probability,
		Result:        domain.WagerStatusPending,
	}
}

// Rank returns a copy of cands ordered by score descending, then edge
// descending, then earliest start. Prediction id breaks any remaining tie so
// the order is deterministic.
func Rank(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score() != b.Score() {
			return a.Score() > b.Score()
		}
		if a.Edge != b.Edge {
			return a.Edge > b.Edge
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.PredictionID < b.PredictionID
	})
	return out
}

// DedupeByGame keeps only the best-ranked candidate of each game.
func DedupeByGame(cands []Candidate) []Candidate {
	ranked := Rank(cands)
	seen := make(map[string]bool, len(ranked))
	out := make([]Candidate, 0, len(ranked))
	for _, c := range ranked {
		if seen[c.GameID] {
			continue
		}
		seen[c.GameID] = true
		out = append(out, c)
	}
	return out
}
