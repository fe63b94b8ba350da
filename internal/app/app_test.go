package app

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/config"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/executor"
	"github.com/alanyoungcy/wagerbot/internal/feed"
	"github.com/alanyoungcy/wagerbot/internal/notify"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func memoryDeps() *Dependencies {
	db := memory.New()
	return &Dependencies{
		Ledgers:   memory.NewLedgerStore(db),
		Wagers:    memory.NewWagerStore(db),
		Cycles:    memory.NewCycleStateStore(db),
		Audit:     memory.NewAuditStore(db),
		Incidents: memory.NewIncidentStore(db),
		Notifier:  notify.NewNotifier(nil, nil, testLogger()),
	}
}

func TestCycleMode_OpensLedgersAndCompletesEachAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg := config.Defaults()
	cfg.Mode = "cycle"
	cfg.Feed = config.FeedConfig{Kind: "file", Path: path}
	cfg.Accounts = []config.AccountConfig{
		{ID: "alpha", OpeningCents: 100_000, MaxStakeFraction: 0.05, Timezone: "UTC"},
		{ID: "beta", OpeningCents: 50_000, MaxStakeFraction: 0.02, Timezone: "UTC"},
	}

	deps := memoryDeps()
	a := New(&cfg, testLogger())
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.CycleMode(ctx, deps))

	for _, acct := range cfg.Accounts {
		l, err := deps.Ledgers.Get(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, acct.OpeningCents, l.CurrentBalance)
		assert.Equal(t, acct.OpeningCents, l.AvailableBalance)

		st, err := deps.Cycles.Get(ctx, acct.ID, domain.CycleDate(time.Now()))
		require.NoError(t, err)
		assert.True(t, st.Completed)
		assert.Zero(t, st.SinglesPlaced)
	}

	entries, err := deps.Audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var cycles int
	for _, e := range entries {
		if e.Event == "cycle.completed" {
			cycles++
		}
	}
	assert.Equal(t, 2, cycles)
}

func TestSchedulerConfig_TightensStakeCapPerAccount(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())

	sc := a.schedulerConfig(config.AccountConfig{ID: "x", MaxStakeFraction: 0.02}, time.UTC)
	assert.Equal(t, "x", sc.AccountID)
	assert.Equal(t, 0.02, sc.Staking.MaxFraction)
	assert.Equal(t, 0.25, sc.Staking.Multiplier)
	require.Len(t, sc.Tiers, len(cfg.Parlay.Tiers))
	assert.Equal(t, cfg.Parlay.Tiers[2].MinCombinedProbability, sc.Tiers[2].MinCombinedProbability)
	assert.Equal(t, 6*time.Hour, sc.NextDayHorizon)

	sc = a.schedulerConfig(config.AccountConfig{ID: "y", MaxStakeFraction: 0.5}, time.UTC)
	assert.Equal(t, cfg.Staking.MaxFraction, sc.Staking.MaxFraction, "account cannot loosen the global cap")
}

func TestBuildFeedAndVenue(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())
	deps := memoryDeps()

	cfg.Feed = config.FeedConfig{Kind: "redis", Stream: "predictions"}
	_, _, err := a.buildFeed(deps)
	require.Error(t, err, "redis feed without a bus")

	cfg.Feed = config.FeedConfig{Kind: "ws", URL: "ws://localhost:1"}
	f, run, err := a.buildFeed(deps)
	require.NoError(t, err)
	assert.IsType(t, &feed.WSFeed{}, f)
	assert.NotNil(t, run)

	venue, cleanup, err := a.buildVenue(deps)
	require.NoError(t, err)
	assert.IsType(t, &executor.Paper{}, venue)
	assert.NotNil(t, cleanup)

	cfg.Execution.Kind = "carrier-pigeon"
	_, _, err = a.buildVenue(deps)
	require.Error(t, err)
}

func TestServeMetrics_BindFailureDoesNotStopTheGroup(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Defaults()
	cfg.Metrics.Addr = ln.Addr().String()
	a := New(&cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.serveMetrics(ctx, nil))
	assert.NoError(t, ctx.Err(), "returned on the bind error, not on shutdown")
}
