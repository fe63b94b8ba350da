package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/parlay"
	"github.com/alanyoungcy/wagerbot/internal/service"
	"github.com/alanyoungcy/wagerbot/internal/staking"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
	"github.com/alanyoungcy/wagerbot/internal/validator"
)

var start = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// fakeClock advances instantly on Sleep and cancels the run once it reaches
// stopAt.
type fakeClock struct {
	now    time.Time
	stopAt time.Time
	cancel context.CancelFunc
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if !c.stopAt.IsZero() && !c.now.Before(c.stopAt) && c.cancel != nil {
		c.cancel()
		return ctx.Err()
	}
	return nil
}

type staticFeed struct {
	recs  []domain.PredictionRecord
	fails int
	calls int
}

func (f *staticFeed) Predictions(_ context.Context, from, to time.Time) ([]domain.PredictionRecord, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("feed unavailable")
	}
	return f.recs, nil
}

func prob(v float64) *float64 { return &v }

func pred(id, game string, price int, p, conf float64, startAt time.Time) domain.PredictionRecord {
	return domain.PredictionRecord{
		ID:               id,
		Sport:            "nba",
		GameID:           game,
		HomeTeam:         "Celtics",
		AwayTeam:         "Knicks",
		StartTime:        startAt,
		WagerType:        domain.WagerTypeMoneyline,
		Selection:        "Celtics",
		PriceAmerican:    price,
		ModelProbability: prob(p),
		Confidence:       prob(conf),
		Live:             true,
	}
}

// slate is one evening of predictions: three usable, one under the
// confidence floor, one not live and one already underway.
func slate() []domain.PredictionRecord {
	notLive := pred("p5", "g5", 120, 0.6, 0.8, start.Add(3*time.Hour))
	notLive.Live = false
	return []domain.PredictionRecord{
		pred("p1", "g1", 120, 0.55, 0.7, start.Add(3*time.Hour)),
		pred("p2", "g2", 100, 0.55, 0.7, start.Add(2*time.Hour)),
		pred("p3", "g3", 150, 0.42, 0.7, start.Add(4*time.Hour)),
		pred("p4", "g4", 120, 0.60, 0.3, start.Add(3*time.Hour)),
		notLive,
		pred("p6", "g6", 120, 0.60, 0.8, start.Add(-time.Hour)),
	}
}

type harness struct {
	sched  *Scheduler
	ledger *service.LedgerService
	db     *memory.DB
	wagers *memory.WagerStore
	cycles *memory.CycleStateStore
	feed   *staticFeed
	clock  *fakeClock
}

func newHarness(t *testing.T, dailyLossCap int64, tiers ...parlay.Tier) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	h := &harness{
		db:    memory.New(),
		feed:  &staticFeed{recs: slate()},
		clock: &fakeClock{now: start},
	}
	h.wagers = memory.NewWagerStore(h.db)
	h.cycles = memory.NewCycleStateStore(h.db)
	h.ledger = service.NewLedgerService(
		memory.NewLedgerStore(h.db),
		h.wagers,
		service.LedgerConfig{Location: time.UTC},
		logger,
		service.WithClock(h.clock.Now),
	)
	_, err := h.ledger.EnsureLedger(context.Background(), "acct", 100_000, 0.05, dailyLossCap)
	require.NoError(t, err)

	h.sched = New(Config{
		AccountID:     "acct",
		Location:      time.UTC,
		MaxSingles:    2,
		MinEdge:       0.01,
		MinConfidence: 0.5,
		Staking:       staking.Params{Multiplier: 0.25, MaxFraction: 0.05, MinStakeCents: 100},
		Tiers:         tiers,
		RetryDelay:    time.Minute,
		MaxRetryDelay: 4 * time.Minute,
		MaxSleep:      15 * time.Minute,
	}, Deps{
		Feed:       h.feed,
		Ledger:     h.ledger,
		Cycles:     h.cycles,
		Wagers:     h.wagers,
		Validator:  validator.New(nil, logger),
		Strategies: []parlay.Strategy{parlay.Strict{}, parlay.Relaxed{}},
		Audit:      memory.NewAuditStore(h.db),
		Clock:      h.clock,
	}, logger)
	return h
}

var doubles = parlay.Tier{
	Name:                   "double",
	LegCount:               2,
	MinLegConfidence:       0.9,
	MinLegEdge:             0.05,
	MinCombinedProbability: 0.5,
	StakeFraction:          0.01,
}

func (h *harness) assertInvariant(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	l, err := h.ledger.Ledger(ctx, "acct")
	require.NoError(t, err)
	pending, err := h.wagers.ListPending(ctx, "acct")
	require.NoError(t, err)
	var sum int64
	for _, w := range pending {
		sum += w.StakeCents
	}
	assert.Equal(t, l.CurrentBalance, l.AvailableBalance+sum)
}

func TestRunCycle_PlacesSinglesAndFallsBackToRelaxed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, doubles)

	rep, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Completed)
	assert.Empty(t, rep.Skipped)
	assert.Equal(t, 6, rep.Considered)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, 2, rep.Filtered)
	require.Len(t, rep.Singles, 2)

	require.Len(t, rep.Parlays, 1)
	assert.Equal(t, "double", rep.Parlays[0].Tier)
	assert.Equal(t, domain.StrategyRelaxed, rep.Parlays[0].Strategy)
	require.NotEmpty(t, rep.Parlays[0].WagerID)

	first, err := h.wagers.GetByID(ctx, rep.Singles[0])
	require.NoError(t, err)
	assert.Equal(t, "p1", first.PredictionID)

	p, err := h.wagers.GetByID(ctx, rep.Parlays[0].WagerID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerTypeParlay, p.Type)
	assert.Equal(t, domain.StrategyRelaxed, p.Strategy)
	require.Len(t, p.Legs, 2)
	assert.NotEqual(t, p.Legs[0].GameID, p.Legs[1].GameID)

	state, err := h.cycles.Get(ctx, "acct", "2026-03-01")
	require.NoError(t, err)
	assert.True(t, state.Completed)
	assert.Equal(t, 2, state.SinglesPlaced)
	assert.Equal(t, []int{2}, state.ParlayTiersPlaced)
	h.assertInvariant(t)
}

func TestRunCycle_IdempotentPerDate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, doubles)

	_, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	before, err := h.wagers.ListByAccount(ctx, "acct", domain.ListOpts{})
	require.NoError(t, err)

	h.clock.now = start.Add(time.Hour)
	rep, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "completed", rep.Skipped)

	after, err := h.wagers.ListByAccount(ctx, "acct", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestRunCycle_ResumesPartialState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, doubles)

	w, err := h.ledger.Place(ctx, domain.Wager{
		AccountID:    "acct",
		Type:         domain.WagerTypeMoneyline,
		GameID:       "g1",
		HomeTeam:     "Celtics",
		AwayTeam:     "Knicks",
		PredictionID: "p1",
		Selection:    "Celtics",
		StakeCents:   1_000,
		DecimalPrice: 2.2,
		Strategy:     domain.StrategySingle,
	})
	require.NoError(t, err)
	require.NoError(t, h.cycles.Save(ctx, domain.DailyCycleState{
		AccountID:         "acct",
		Date:              "2026-03-01",
		SinglesPlaced:     1,
		ParlayTiersPlaced: []int{2},
	}))

	rep, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Singles, 1)
	assert.Empty(t, rep.Parlays)

	placed, err := h.wagers.GetByID(ctx, rep.Singles[0])
	require.NoError(t, err)
	assert.NotEqual(t, w.PredictionID, placed.PredictionID)
	assert.Equal(t, "p2", placed.PredictionID)
	h.assertInvariant(t)
}

// flakyCycles fails the failOn-th Save and passes every other call through.
type flakyCycles struct {
	domain.CycleStateStore
	failOn int
	saves  int
}

func (f *flakyCycles) Save(ctx context.Context, st domain.DailyCycleState) error {
	f.saves++
	if f.saves == f.failOn {
		return errors.New("connection reset")
	}
	return f.CycleStateStore.Save(ctx, st)
}

func (h *harness) failSave(n int) {
	deps := h.sched.deps
	deps.Cycles = &flakyCycles{CycleStateStore: h.cycles, failOn: n}
	h.sched = New(h.sched.cfg, deps, slog.New(slog.DiscardHandler))
}

func TestRunCycle_LostStateSaveDoesNotDoublePlace(t *testing.T) {
	tests := []struct {
		name    string
		failOn  int
		singles int
		parlays int
	}{
		{"after first single", 1, 2, 1},
		{"after parlay", 3, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, 0, doubles)
			h.failSave(tt.failOn)

			_, err := h.sched.RunCycle(ctx)
			require.Error(t, err)
			var perr *domain.PersistenceError
			assert.ErrorAs(t, err, &perr)

			rep, err := h.sched.RunCycle(ctx)
			require.NoError(t, err)
			assert.True(t, rep.Completed)

			ws, err := h.wagers.ListByAccount(ctx, "acct", domain.ListOpts{})
			require.NoError(t, err)
			var singles, parlays int
			for _, w := range ws {
				if w.IsParlay() {
					parlays++
				} else {
					singles++
				}
			}
			assert.Equal(t, tt.singles, singles)
			assert.Equal(t, tt.parlays, parlays)

			state, err := h.cycles.Get(ctx, "acct", "2026-03-01")
			require.NoError(t, err)
			assert.True(t, state.Completed)
			assert.Equal(t, 2, state.SinglesPlaced)
			assert.Equal(t, []int{2}, state.ParlayTiersPlaced)
			h.assertInvariant(t)
		})
	}
}

func TestRunCycle_RelaxedIgnoresGlobalFloors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, doubles)
	h.feed.recs = []domain.PredictionRecord{
		pred("q1", "g1", 120, 0.60, 0.3, start.Add(2*time.Hour)),
		pred("q2", "g2", 120, 0.60, 0.2, start.Add(3*time.Hour)),
	}

	rep, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Singles)
	assert.Equal(t, 2, rep.Filtered)

	require.Len(t, rep.Parlays, 1)
	assert.Equal(t, domain.StrategyRelaxed, rep.Parlays[0].Strategy)
	require.NotEmpty(t, rep.Parlays[0].WagerID)

	p, err := h.wagers.GetByID(ctx, rep.Parlays[0].WagerID)
	require.NoError(t, err)
	require.Len(t, p.Legs, 2)
	assert.ElementsMatch(t, []string{"q1", "q2"}, []string{p.Legs[0].PredictionID, p.Legs[1].PredictionID})
	h.assertInvariant(t)
}

func TestRunCycle_DailyLossCapSkips(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1_000, doubles)

	w, err := h.ledger.Place(ctx, domain.Wager{
		AccountID:    "acct",
		Type:         domain.WagerTypeMoneyline,
		GameID:       "g0",
		HomeTeam:     "Celtics",
		AwayTeam:     "Knicks",
		Selection:    "Celtics",
		StakeCents:   2_000,
		DecimalPrice: 1.9,
		Strategy:     domain.StrategySingle,
	})
	require.NoError(t, err)
	_, err = h.ledger.Settle(ctx, w.ID, domain.WagerStatusLost, nil)
	require.NoError(t, err)

	rep, err := h.sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "daily_loss_cap", rep.Skipped)
	assert.False(t, rep.Completed)

	pending, err := h.wagers.ListPending(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunCycle_FeedFailureIsTransient(t *testing.T) {
	h := newHarness(t, 0)
	h.feed.fails = 1

	_, err := h.sched.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	_, err = h.cycles.Get(context.Background(), "acct", "2026-03-01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSizeParlay_FlatFallback(t *testing.T) {
	h := newHarness(t, 0)
	noEdge := parlay.Parlay{CombinedDecimal: 4.0, CombinedProbability: 0.2}

	assert.Equal(t, int64(1_000), h.sched.sizeParlay(noEdge, doubles, 100_000))

	noFlat := doubles
	noFlat.StakeFraction = 0
	assert.Zero(t, h.sched.sizeParlay(noEdge, noFlat, 100_000))
}

func TestRun_BacksOffThenWaitsForMidnight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, 0, doubles)
	h.feed.fails = 2
	h.clock.cancel = cancel
	h.clock.stopAt = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, h.sched.Run(ctx))
	require.GreaterOrEqual(t, len(h.clock.sleeps), 3)
	assert.Equal(t, time.Minute, h.clock.sleeps[0])
	assert.Equal(t, 2*time.Minute, h.clock.sleeps[1])
	for _, d := range h.clock.sleeps[2:] {
		assert.LessOrEqual(t, d, 15*time.Minute)
	}

	for _, date := range []string{"2026-03-01", "2026-03-02"} {
		state, err := h.cycles.Get(context.Background(), "acct", date)
		require.NoError(t, err, date)
		assert.True(t, state.Completed, date)
	}
	assert.Equal(t, StateIdle, h.sched.State())
	h.assertInvariant(t)
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, 0)
	require.NoError(t, h.sched.Run(ctx))
	assert.Zero(t, h.feed.calls)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		cutoff int
		wantTo time.Time
	}{
		{"evening", start, 22, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"late night", time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC), 22, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)},
		{"disabled", time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC), 0, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := Window(tt.now, tt.cutoff, 6*time.Hour)
			assert.Equal(t, tt.now, from)
			assert.Equal(t, tt.wantTo, to)
		})
	}
}

func TestNextMidnight(t *testing.T) {
	ny := time.FixedZone("EST", -5*60*60)

	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), NextMidnight(start, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), NextMidnight(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), nil))

	got := NextMidnight(start, ny)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, ny), got)
	assert.Equal(t, 5*time.Hour, got.Sub(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "unknown", State(42).String())
}
