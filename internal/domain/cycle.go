package domain

import "time"

// DailyCycleState records what the scheduler has already done for one
// account on one UTC date so that re-running a cycle never double-places.
type DailyCycleState struct {
	AccountID         string
	Date              string
	SinglesPlaced     int
	ParlayTiersPlaced []int
	Completed         bool
	UpdatedAt         time.Time
}

// CycleDate formats t as the UTC date key used by DailyCycleState.
func CycleDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TierPlaced reports whether a parlay of the given leg count was placed.
func (s DailyCycleState) TierPlaced(legs int) bool {
	for _, n := range s.ParlayTiersPlaced {
		if n == legs {
			return true
		}
	}
	return false
}

// MarkTier records a placed parlay tier.
func (s *DailyCycleState) MarkTier(legs int) {
	if !s.TierPlaced(legs) {
		s.ParlayTiersPlaced = append(s.ParlayTiersPlaced, legs)
	}
}
