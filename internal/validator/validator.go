// Package validator is the schema gate every prediction passes before it can
// be sized or placed. It never repairs a record: a record either passes as
// received or is rejected with the offending field and reason.
package validator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
)

// placeholders are values feeds emit when the real value is unknown.
var placeholders = map[string]bool{
	"":            true,
	"tbd":         true,
	"tba":         true,
	"unknown":     true,
	"n/a":         true,
	"na":          true,
	"none":        true,
	"null":        true,
	"placeholder": true,
	"-":           true,
	"?":           true,
}

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

func reject(rec domain.PredictionRecord, field, reason string, sev domain.Severity) *domain.ValidationError {
	return &domain.ValidationError{
		PredictionID: rec.Key(),
		WagerType:    rec.WagerType,
		Field:        field,
		Reason:       reason,
		Severity:     sev,
	}
}

// Check runs every rule against rec and returns the first failure, or nil.
func Check(rec domain.PredictionRecord) *domain.ValidationError {
	if !rec.Live {
		return reject(rec, "live", "record not sourced from live data", domain.SeverityHigh)
	}
	if isPlaceholder(rec.GameID) {
		return reject(rec, "game_id", "missing or placeholder game id", domain.SeverityHigh)
	}
	if isPlaceholder(rec.HomeTeam) {
		return reject(rec, "home_team", "missing or placeholder home team", domain.SeverityHigh)
	}
	if isPlaceholder(rec.AwayTeam) {
		return reject(rec, "away_team", "missing or placeholder away team", domain.SeverityHigh)
	}
	if rec.StartTime.IsZero() {
		return reject(rec, "start_time", "missing start time", domain.SeverityHigh)
	}
	if rec.PriceAmerican == 0 {
		return reject(rec, "price", "missing price", domain.SeverityHigh)
	}
	if rec.PriceAmerican > -100 && rec.PriceAmerican < 100 {
		return reject(rec, "price", "malformed american price", domain.SeverityMedium)
	}
	if _, ok := rec.Probability(); !ok {
		return reject(rec, "model_probability", "no model probability or edge", domain.SeverityMedium)
	}
	return checkMarket(rec)
}

// CheckWager applies the game and market rules to every selection of a wager
// about to be placed. A parlay fails on its first bad leg.
func CheckWager(w domain.Wager) *domain.ValidationError {
	if !w.IsParlay() {
		return checkSelection(domain.PredictionRecord{
			ID:        w.PredictionID,
			Sport:     w.Sport,
			GameID:    w.GameID,
			HomeTeam:  w.HomeTeam,
			AwayTeam:  w.AwayTeam,
			WagerType: w.Type,
			Selection: w.Selection,
			Line:      w.Line,
		})
	}
	for _, l := range w.Legs {
		if verr := checkSelection(domain.PredictionRecord{
			ID:        l.PredictionID,
			Sport:     l.Sport,
			GameID:    l.GameID,
			HomeTeam:  l.HomeTeam,
			AwayTeam:  l.AwayTeam,
			WagerType: l.WagerType,
			Selection: l.Selection,
			Line:      l.Line,
		}); verr != nil {
			return verr
		}
	}
	return nil
}

func checkSelection(rec domain.PredictionRecord) *domain.ValidationError {
	if isPlaceholder(rec.GameID) {
		return reject(rec, "game_id", "missing or placeholder game id", domain.SeverityHigh)
	}
	if isPlaceholder(rec.HomeTeam) {
		return reject(rec, "home_team", "missing or placeholder home team", domain.SeverityHigh)
	}
	if isPlaceholder(rec.AwayTeam) {
		return reject(rec, "away_team", "missing or placeholder away team", domain.SeverityHigh)
	}
	return checkMarket(rec)
}

func checkMarket(rec domain.PredictionRecord) *domain.ValidationError {
	switch rec.WagerType {
	case domain.WagerTypeMoneyline:
		return checkMoneyline(rec)
	case domain.WagerTypeSpread:
		return checkSpread(rec)
	case domain.WagerTypeTotal:
		return checkTotal(rec)
	default:
		return reject(rec, "wager_type", "unsupported wager type", domain.SeverityMedium)
	}
}

func checkMoneyline(rec domain.PredictionRecord) *domain.ValidationError {
	sel := strings.TrimSpace(rec.Selection)
	if !strings.EqualFold(sel, rec.HomeTeam) && !strings.EqualFold(sel, rec.AwayTeam) {
		return reject(rec, "selection", "selection is neither home nor away team", domain.SeverityMedium)
	}
	return nil
}

func checkSpread(rec domain.PredictionRecord) *domain.ValidationError {
	if isPlaceholder(rec.Selection) {
		return reject(rec, "selection", "missing spread selection", domain.SeverityMedium)
	}
	if rec.Line == nil {
		return reject(rec, "line", "missing spread line", domain.SeverityMedium)
	}
	return nil
}

func checkTotal(rec domain.PredictionRecord) *domain.ValidationError {
	if rec.Line == nil || *rec.Line <= 0 {
		return reject(rec, "line", "total line must be positive", domain.SeverityMedium)
	}
	sel := strings.ToLower(strings.TrimSpace(rec.Selection))
	if sel != "over" && sel != "under" {
		return reject(rec, "selection", "total selection must be over or under", domain.SeverityMedium)
	}
	return nil
}

// Validator applies Check and reports each rejection to an incident sink.
type Validator struct {
	sink   domain.IncidentSink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Validator. sink may be nil.
func New(sink domain.IncidentSink, logger *slog.Logger) *Validator {
	return &Validator{
		sink:   sink,
		logger: logger.With(slog.String("component", "validator")),
		now:    time.Now,
	}
}

// Validate returns nil when rec passes, or a *domain.ValidationError.
func (v *Validator) Validate(ctx context.Context, rec domain.PredictionRecord) error {
	verr := Check(rec)
	if verr == nil {
		return nil
	}
	v.report(ctx, "prediction rejected", "prediction", verr, map[string]any{
		"prediction_id": verr.PredictionID,
		"game_id":       rec.GameID,
		"sport":         rec.Sport,
		"source":        rec.Source,
		"reason":        verr.Reason,
	})
	return verr
}

// ValidateWager returns nil when w passes CheckWager, or a
// *domain.ValidationError.
func (v *Validator) ValidateWager(ctx context.Context, w domain.Wager) error {
	verr := CheckWager(w)
	if verr == nil {
		return nil
	}
	v.report(ctx, "wager rejected", "wager", verr, map[string]any{
		"wager_id":      w.ID,
		"account":       w.AccountID,
		"prediction_id": verr.PredictionID,
		"reason":        verr.Reason,
	})
	return verr
}

func (v *Validator) report(ctx context.Context, msg, kind string, verr *domain.ValidationError, detail map[string]any) {
	metrics.ValidationRejects.WithLabelValues(string(verr.WagerType), verr.Field).Inc()
	v.logger.WarnContext(ctx, msg,
		slog.String("prediction_id", verr.PredictionID),
		slog.String("wager_type", string(verr.WagerType)),
		slog.String("field", verr.Field),
		slog.String("reason", verr.Reason),
	)

	if v.sink != nil {
		v.sink.RecordIncident(ctx, domain.Incident{
			Severity:      verr.Severity,
			DataType:      kind + "." + string(verr.WagerType),
			MissingFields: []string{verr.Field},
			Context:       detail,
			CreatedAt:     v.now().UTC(),
		})
	}
}
