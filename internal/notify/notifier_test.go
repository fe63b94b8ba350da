package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

type captureSender struct {
	name   string
	err    error
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{EventIncident, " "}, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), EventCycleSummary, "cycle", "body"))
	require.NoError(t, n.Notify(context.Background(), EventIncident, "incident", "body"))

	assert.Equal(t, []string{"incident"}, s.titles)
	assert.True(t, n.Enabled())
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("boom")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.NotifyIncident(context.Background(), domain.Incident{Severity: domain.SeverityHigh, DataType: "prediction.total"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"[HIGH] data incident: prediction.total"}, good.titles)
}

func TestIncidentMessage_SortsContext(t *testing.T) {
	msg := IncidentMessage(domain.Incident{
		MissingFields: []string{"line"},
		Context:       map[string]any{"reason": "must be positive", "game_id": "g1"},
	})
	assert.Equal(t, "fields: line\ngame_id: g1\nreason: must be positive", msg)
}

func TestCycleSummary(t *testing.T) {
	l := domain.BankrollLedger{CurrentBalance: 104_250, AvailableBalance: 98_000}
	msg := CycleSummary("acct", "2026-03-01", 3, []string{"2-leg strict"}, l)
	assert.Contains(t, msg, "singles placed: 3")
	assert.Contains(t, msg, "parlays placed: 2-leg strict")
	assert.Contains(t, msg, "balance: $1042.50 (available $980.00)")
}

func TestSettlementMessage(t *testing.T) {
	payout := int64(7_636)
	w := domain.Wager{
		ID: "w1", AccountID: "acct", Type: domain.WagerTypeMoneyline,
		Selection: "Lakers", StakeCents: 4_000, Status: domain.WagerStatusWon, PayoutCents: &payout,
	}
	assert.Equal(t, "wager WON: moneyline", SettlementTitle(w))
	assert.Equal(t, "account acct, wager w1\nselection: Lakers\nstake $40.00, payout $76.36", SettlementMessage(w))

	p := domain.Wager{
		ID: "p1", AccountID: "acct", Type: domain.WagerTypeParlay, StakeCents: 500, Status: domain.WagerStatusLost,
		Legs: []domain.ParlayLeg{
			{Selection: "Lakers", Result: domain.WagerStatusWon},
			{Selection: "over", Result: domain.WagerStatusLost},
		},
	}
	assert.Equal(t, "account acct, wager p1\nlegs: Lakers (won), over (lost)\nstake $5.00, payout $0.00", SettlementMessage(p))
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*title*\nbody", got["text"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400")
}
