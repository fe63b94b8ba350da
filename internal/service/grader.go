package service

import (
	"strings"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Selection describes what was backed on one game, either a single wager
// or one parlay leg.
type Selection struct {
	Type      domain.WagerType
	Selection string
	Line      *float64
}

// Grade decides a selection against a game result. A game that is not final
// stays pending; a cancelled game, a selection naming neither team, or a
// missing line voids the selection as cancelled.
func Grade(sel Selection, res domain.GameResult) domain.WagerStatus {
	if res.Cancelled {
		return domain.WagerStatusCancelled
	}
	if !res.Final {
		return domain.WagerStatusPending
	}

	switch sel.Type {
	case domain.WagerTypeMoneyline:
		return gradeMoneyline(sel, res)
	case domain.WagerTypeSpread:
		return gradeSpread(sel, res)
	case domain.WagerTypeTotal:
		return gradeTotal(sel, res)
	default:
		return domain.WagerStatusCancelled
	}
}

// side returns the backed team's score and the opponent's.
func side(selection string, res domain.GameResult) (own, opp int, ok bool) {
	switch {
	case strings.EqualFold(selection, res.HomeTeam):
		return res.HomeScore, res.AwayScore, true
	case strings.EqualFold(selection, res.AwayTeam):
		return res.AwayScore, res.HomeScore, true
	default:
		return 0, 0, false
	}
}

func gradeMoneyline(sel Selection, res domain.GameResult) domain.WagerStatus {
	own, opp, ok := side(sel.Selection, res)
	if !ok {
		return domain.WagerStatusCancelled
	}
	return compare(float64(own), float64(opp))
}

func gradeSpread(sel Selection, res domain.GameResult) domain.WagerStatus {
	if sel.Line == nil {
		return domain.WagerStatusCancelled
	}
	own, opp, ok := side(sel.Selection, res)
	if !ok {
		return domain.WagerStatusCancelled
	}
	return compare(float64(own)+*sel.Line, float64(opp))
}

func gradeTotal(sel Selection, res domain.GameResult) domain.WagerStatus {
	if sel.Line == nil {
		return domain.WagerStatusCancelled
	}
	total := float64(res.HomeScore + res.AwayScore)
	switch strings.ToLower(sel.Selection) {
	case "over":
		return compare(total, *sel.Line)
	case "under":
		return compare(*sel.Line, total)
	default:
		return domain.WagerStatusCancelled
	}
}

func compare(backed, other float64) domain.WagerStatus {
	switch {
	case backed > other:
		return domain.WagerStatusWon
	case backed == other:
		return domain.WagerStatusPushed
	default:
		return domain.WagerStatusLost
	}
}
