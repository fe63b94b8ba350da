package validator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

type captureSink struct {
	mu        sync.Mutex
	incidents []domain.Incident
}

func (c *captureSink) RecordIncident(_ context.Context, inc domain.Incident) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incidents = append(c.incidents, inc)
}

func f(v float64) *float64 { return &v }

func base(wt domain.WagerType, selection string, line *float64) domain.PredictionRecord {
	return domain.PredictionRecord{
		Sport:            "nba",
		GameID:           "401585001",
		HomeTeam:         "Boston Celtics",
		AwayTeam:         "Miami Heat",
		StartTime:        time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC),
		WagerType:        wt,
		Selection:        selection,
		Line:             line,
		PriceAmerican:    -110,
		ModelProbability: f(0.58),
		Confidence:       f(0.7),
		Live:             true,
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name  string
		rec   domain.PredictionRecord
		field string
	}{
		{"moneyline home", base(domain.WagerTypeMoneyline, "boston celtics", nil), ""},
		{"moneyline away", base(domain.WagerTypeMoneyline, "Miami Heat", nil), ""},
		{"moneyline stranger", base(domain.WagerTypeMoneyline, "Lakers", nil), "selection"},
		{"spread ok", base(domain.WagerTypeSpread, "Boston Celtics", f(-4.5)), ""},
		{"spread pick'em line zero", base(domain.WagerTypeSpread, "Miami Heat", f(0)), ""},
		{"spread missing line", base(domain.WagerTypeSpread, "Boston Celtics", nil), "line"},
		{"spread missing selection", base(domain.WagerTypeSpread, "", f(3.5)), "selection"},
		{"total over", base(domain.WagerTypeTotal, "Over", f(45.5)), ""},
		{"total under lower", base(domain.WagerTypeTotal, "under", f(210.5)), ""},
		{"total negative line", base(domain.WagerTypeTotal, "Over", f(-3.5)), "line"},
		{"total missing line", base(domain.WagerTypeTotal, "Over", nil), "line"},
		{"total bad selection", base(domain.WagerTypeTotal, "Boston Celtics", f(45.5)), "selection"},
		{"unknown type", base(domain.WagerType("prop"), "x", nil), "wager_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := Check(tt.rec)
			if tt.field == "" {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCheck_RequiredFields(t *testing.T) {
	rec := base(domain.WagerTypeMoneyline, "Miami Heat", nil)

	notLive := rec
	notLive.Live = false
	assert.Equal(t, "live", Check(notLive).Field)

	tbd := rec
	tbd.HomeTeam = "TBD"
	verr := Check(tbd)
	assert.Equal(t, "home_team", verr.Field)
	assert.Equal(t, domain.SeverityHigh, verr.Severity)

	noGame := rec
	noGame.GameID = ""
	assert.Equal(t, "game_id", Check(noGame).Field)

	noStart := rec
	noStart.StartTime = time.Time{}
	assert.Equal(t, "start_time", Check(noStart).Field)

	noPrice := rec
	noPrice.PriceAmerican = 0
	assert.Equal(t, "price", Check(noPrice).Field)

	noProb := rec
	noProb.ModelProbability = nil
	assert.Equal(t, "model_probability", Check(noProb).Field)
}

func TestValidate_ReportsIncident(t *testing.T) {
	sink := &captureSink{}
	v := New(sink, slog.New(slog.DiscardHandler))

	err := v.Validate(context.Background(), base(domain.WagerTypeTotal, "Over", f(-3.5)))
	require.Error(t, err)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "line", verr.Field)

	require.Len(t, sink.incidents, 1)
	inc := sink.incidents[0]
	assert.Equal(t, domain.SeverityMedium, inc.Severity)
	assert.Equal(t, "prediction.total", inc.DataType)
	assert.Equal(t, []string{"line"}, inc.MissingFields)
	assert.Equal(t, "401585001", inc.Context["game_id"])

	assert.NoError(t, v.Validate(context.Background(), base(domain.WagerTypeTotal, "Over", f(45.5))))
	assert.Len(t, sink.incidents, 1)
}

func TestValidate_NilSink(t *testing.T) {
	v := New(nil, slog.New(slog.DiscardHandler))
	assert.Error(t, v.Validate(context.Background(), domain.PredictionRecord{}))
}

func TestCheckWager(t *testing.T) {
	single := domain.Wager{
		ID:        "w1",
		Type:      domain.WagerTypeTotal,
		GameID:    "401585001",
		HomeTeam:  "Boston Celtics",
		AwayTeam:  "Miami Heat",
		Selection: "Over",
		Line:      f(221.5),
	}
	assert.Nil(t, CheckWager(single))

	negative := single
	negative.Line = f(-3.5)
	assert.Equal(t, "line", CheckWager(negative).Field)

	stranger := single
	stranger.Type = domain.WagerTypeMoneyline
	stranger.Selection = "Lakers"
	stranger.Line = nil
	assert.Equal(t, "selection", CheckWager(stranger).Field)

	noTeams := single
	noTeams.HomeTeam = ""
	assert.Equal(t, "home_team", CheckWager(noTeams).Field)

	parlay := domain.Wager{
		ID:   "p1",
		Type: domain.WagerTypeParlay,
		Legs: []domain.ParlayLeg{
			{GameID: "g1", HomeTeam: "Lakers", AwayTeam: "Suns", WagerType: domain.WagerTypeMoneyline, Selection: "Suns"},
			{GameID: "g2", HomeTeam: "Bears", AwayTeam: "Lions", WagerType: domain.WagerTypeSpread, Selection: "Bears"},
		},
	}
	verr := CheckWager(parlay)
	require.NotNil(t, verr)
	assert.Equal(t, "line", verr.Field)
	assert.Equal(t, domain.WagerTypeSpread, verr.WagerType)

	parlay.Legs[1].Line = f(-2.5)
	assert.Nil(t, CheckWager(parlay))
}

func TestValidateWager_ReportsIncident(t *testing.T) {
	sink := &captureSink{}
	v := New(sink, slog.New(slog.DiscardHandler))

	err := v.ValidateWager(context.Background(), domain.Wager{
		ID:        "w1",
		AccountID: "acct",
		Type:      domain.WagerTypeTotal,
		GameID:    "401585001",
		HomeTeam:  "Boston Celtics",
		AwayTeam:  "Miami Heat",
		Selection: "Under",
		Line:      f(0),
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	require.Len(t, sink.incidents, 1)
	assert.Equal(t, "wager.total", sink.incidents[0].DataType)
	assert.Equal(t, "w1", sink.incidents[0].Context["wager_id"])
}
