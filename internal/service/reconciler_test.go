package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

type staticResults struct {
	results map[string]domain.GameResult
	err     error
}

func (s staticResults) Results(context.Context) (map[string]domain.GameResult, error) {
	return s.results, s.err
}

type settledNotes struct {
	statuses []domain.WagerStatus
}

func (n *settledNotes) NotifySettlement(_ context.Context, w domain.Wager) error {
	n.statuses = append(n.statuses, w.Status)
	return nil
}

func TestReconciler_SettlesSinglesAndParlays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100_000)

	win, err := f.svc.Place(ctx, domain.Wager{
		AccountID: "acct", Type: domain.WagerTypeMoneyline, GameID: "g1", HomeTeam: "Lakers", AwayTeam: "Suns",
		Selection: "Lakers", StakeCents: 1_000, DecimalPrice: 2.5, Strategy: domain.StrategySingle,
	})
	require.NoError(t, err)
	waiting, err := f.svc.Place(ctx, domain.Wager{
		AccountID: "acct", Type: domain.WagerTypeTotal, GameID: "g9", HomeTeam: "Heat", AwayTeam: "Nets",
		Selection: "Over", Line: line(200.5), StakeCents: 1_000, DecimalPrice: 1.9, Strategy: domain.StrategySingle,
	})
	require.NoError(t, err)
	p, err := f.svc.Place(ctx, domain.Wager{
		AccountID: "acct", Type: domain.WagerTypeParlay, StakeCents: 500, DecimalPrice: 4.0, Strategy: domain.StrategyRelaxed,
		Legs: []domain.ParlayLeg{
			{GameID: "g1", HomeTeam: "Lakers", AwayTeam: "Suns", WagerType: domain.WagerTypeMoneyline, Selection: "Lakers", DecimalPrice: 2.0},
			{GameID: "g2", HomeTeam: "Bears", AwayTeam: "Lions", WagerType: domain.WagerTypeTotal, Selection: "Under", Line: line(45.5), DecimalPrice: 2.0},
		},
	})
	require.NoError(t, err)

	rec := NewReconciler(f.svc, f.wagers, staticResults{results: map[string]domain.GameResult{
		"g1": {GameID: "g1", HomeTeam: "Lakers", AwayTeam: "Suns", HomeScore: 101, AwayScore: 99, Final: true},
		"g2": {GameID: "g2", HomeTeam: "Bears", AwayTeam: "Lions", HomeScore: 27, AwayScore: 24, Final: true},
		"g9": {GameID: "g9", HomeTeam: "Heat", AwayTeam: "Nets"},
	}}, slog.New(slog.DiscardHandler))
	notes := &settledNotes{}
	rec.WithNotifier(notes)

	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Checked)
	assert.Equal(t, 2, rep.Settled)
	assert.Equal(t, 2, rep.Legs)
	assert.ElementsMatch(t, []domain.WagerStatus{domain.WagerStatusWon, domain.WagerStatusLost}, notes.statuses)

	got, err := f.wagers.GetByID(ctx, win.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusWon, got.Status)

	got, err = f.wagers.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusLost, got.Status)

	got, err = f.wagers.GetByID(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusPending, got.Status)

	l, err := f.svc.Ledger(ctx, "acct")
	require.NoError(t, err)
	// +1500 profit on the single, -500 on the parlay, 1000 still pending.
	assert.Equal(t, int64(101_000), l.CurrentBalance)
	assert.Equal(t, int64(100_000), l.AvailableBalance)
	assertInvariant(t, f)

	rep, err = rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Checked)
	assert.Zero(t, rep.Settled)
}

func TestReconciler_ResultSourceFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000)
	_, err := f.svc.Place(ctx, single(1_000, 2.0))
	require.NoError(t, err)

	rec := NewReconciler(f.svc, f.wagers, staticResults{err: errors.New("redis down")}, slog.New(slog.DiscardHandler))
	_, err = rec.Reconcile(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

// flakySettle fails the next fails calls to SettleWager.
type flakySettle struct {
	domain.LedgerStore
	fails int
}

func (f *flakySettle) SettleWager(ctx context.Context, st domain.Settlement) (domain.Wager, domain.BankrollLedger, error) {
	if f.fails > 0 {
		f.fails--
		return domain.Wager{}, domain.BankrollLedger{}, errors.New("deadlock detected")
	}
	return f.LedgerStore.SettleWager(ctx, st)
}

func TestReconciler_RecoversFailedParlaySettlementAndRecordsLateLegs(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	wagers := memory.NewWagerStore(db)
	logger := slog.New(slog.DiscardHandler)
	svc := NewLedgerService(
		&flakySettle{LedgerStore: memory.NewLedgerStore(db), fails: 1},
		wagers,
		LedgerConfig{Location: time.UTC},
		logger,
	)
	_, err := svc.EnsureLedger(ctx, "acct", 10_000, 0.05, 0)
	require.NoError(t, err)

	p, err := svc.Place(ctx, domain.Wager{
		AccountID: "acct", Type: domain.WagerTypeParlay, StakeCents: 500, DecimalPrice: 4.0, Strategy: domain.StrategyRelaxed,
		Legs: []domain.ParlayLeg{
			{GameID: "g1", HomeTeam: "Lakers", AwayTeam: "Suns", WagerType: domain.WagerTypeMoneyline, Selection: "Lakers", DecimalPrice: 2.0},
			{GameID: "g2", HomeTeam: "Bears", AwayTeam: "Lions", WagerType: domain.WagerTypeTotal, Selection: "Under", Line: line(45.5), DecimalPrice: 2.0},
		},
	})
	require.NoError(t, err)

	lakersLose := map[string]domain.GameResult{
		"g1": {GameID: "g1", HomeTeam: "Lakers", AwayTeam: "Suns", HomeScore: 90, AwayScore: 100, Final: true},
	}
	notes := &settledNotes{}
	rec := NewReconciler(svc, wagers, staticResults{results: lakersLose}, logger).WithNotifier(notes)

	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Settled)

	rep, err = rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)
	assert.Equal(t, []domain.WagerStatus{domain.WagerStatusLost}, notes.statuses)

	got, err := wagers.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusLost, got.Status)
	assert.Equal(t, domain.WagerStatusLost, got.Legs[0].Result)
	assert.Equal(t, domain.WagerStatusPending, got.Legs[1].Result)

	l, err := svc.Ledger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(9_500), l.CurrentBalance)
	assert.Equal(t, int64(9_500), l.AvailableBalance)

	both := map[string]domain.GameResult{
		"g1": lakersLose["g1"],
		"g2": {GameID: "g2", HomeTeam: "Bears", AwayTeam: "Lions", HomeScore: 17, AwayScore: 10, Final: true},
	}
	rec = NewReconciler(svc, wagers, staticResults{results: both}, logger).WithNotifier(notes)
	rep, err = rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Legs)
	assert.Zero(t, rep.Settled)
	assert.Len(t, notes.statuses, 1)

	got, err = wagers.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerStatusWon, got.Legs[1].Result)

	l, err = svc.Ledger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(9_500), l.CurrentBalance)

	rep, err = rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Legs)
}
