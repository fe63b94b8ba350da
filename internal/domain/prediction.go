package domain

import (
	"strings"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/oddsmath"
)

// WagerType identifies the market a wager or prediction belongs to.
type WagerType string

const (
	WagerTypeMoneyline WagerType = "moneyline"
	WagerTypeSpread    WagerType = "spread"
	WagerTypeTotal     WagerType = "total"
	WagerTypeParlay    WagerType = "parlay"
)

// PredictionRecord is a single model prediction for one selection of one
// game. Records are immutable once decoded from the feed.
type PredictionRecord struct {
	ID        string
	Sport     string
	GameID    string
	HomeTeam  string
	AwayTeam  string
	StartTime time.Time
	WagerType WagerType
	Selection string
	Line      *float64

	// PriceAmerican is the quoted American price. Zero means the feed did
	// not carry a price.
	PriceAmerican int

	ModelProbability *float64
	Edge             *float64
	Confidence       *float64

	// Live is the provenance flag: true only when the record was produced
	// from a live data source rather than a fallback or fixture.
	Live   bool
	Source string
}

// PredictionKey builds the stable identifier used for a prediction when the
// feed does not supply one.
func PredictionKey(sport, gameID string, wt WagerType, selection string) string {
	return strings.ToLower(sport) + ":" + gameID + ":" + string(wt) + ":" + strings.ToLower(selection)
}

// Key returns ID, or the derived key when ID is empty.
func (p PredictionRecord) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return PredictionKey(p.Sport, p.GameID, p.WagerType, p.Selection)
}

// ImpliedProbability returns the bookmaker-implied probability of the
// quoted price, or 0 when the price is missing or malformed.
func (p PredictionRecord) ImpliedProbability() float64 {
	implied, err := oddsmath.AmericanToImpliedProbability(p.PriceAmerican)
	if err != nil {
		return 0
	}
	return implied
}

// Probability returns the model probability. When the feed carried only an
// edge, the probability is derived as implied + edge.
func (p PredictionRecord) Probability() (float64, bool) {
	if p.ModelProbability != nil {
		return *p.ModelProbability, true
	}
	if p.Edge != nil {
		implied := p.ImpliedProbability()
		if implied == 0 {
			return 0, false
		}
		return implied + *p.Edge, true
	}
	return 0, false
}

// EdgeValue returns the edge over the market, deriving it from the model
// probability when the feed did not supply one.
func (p PredictionRecord) EdgeValue() float64 {
	if p.Edge != nil {
		return *p.Edge
	}
	if p.ModelProbability != nil {
		if implied := p.ImpliedProbability(); implied > 0 {
			return *p.ModelProbability - implied
		}
	}
	return 0
}

// ConfidenceValue returns confidence, treating a missing value as zero.
func (p PredictionRecord) ConfidenceValue() float64 {
	if p.Confidence == nil {
		return 0
	}
	return *p.Confidence
}

// Score is the ranking key shared by singles and parlay leg selection.
func (p PredictionRecord) Score() float64 {
	return p.ConfidenceValue() * p.EdgeValue()
}

// Started reports whether the game has started at now.
func (p PredictionRecord) Started(now time.Time) bool {
	return !p.StartTime.After(now)
}
