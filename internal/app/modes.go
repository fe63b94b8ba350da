package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerbot/internal/config"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/events"
	"github.com/alanyoungcy/wagerbot/internal/executor"
	"github.com/alanyoungcy/wagerbot/internal/feed"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
	"github.com/alanyoungcy/wagerbot/internal/parlay"
	"github.com/alanyoungcy/wagerbot/internal/pipeline"
	"github.com/alanyoungcy/wagerbot/internal/scheduler"
	"github.com/alanyoungcy/wagerbot/internal/service"
	"github.com/alanyoungcy/wagerbot/internal/staking"
	"github.com/alanyoungcy/wagerbot/internal/validator"
)

const dedupCleanupInterval = time.Hour

// services are the long-lived components shared by the modes.
type services struct {
	ledger     *service.LedgerService
	incidents  *service.IncidentReporter
	feed       domain.PredictionFeed
	schedulers []*scheduler.Scheduler

	// background are goroutines the feed and venue need while running.
	background []func(context.Context) error
}

// RunMode starts every account scheduler together with the reconciler, the
// archiver, the incident reporter and the metrics server, and blocks until
// ctx is cancelled. Paper mode runs the same loop over in-memory stores.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode", slog.Int("accounts", len(a.cfg.Accounts)))

	svc, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startSupport(ctx, g, deps, svc)
	if err := a.startReconciler(ctx, g, deps, svc.ledger); err != nil {
		return fmt.Errorf("run mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)

	for _, s := range svc.schedulers {
		g.Go(func() error {
			return s.Run(ctx)
		})
	}

	return g.Wait()
}

// CycleMode runs one Evaluating and Placing pass per account and exits.
func (a *App) CycleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting cycle mode")

	svc, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("cycle mode: %w", err)
	}

	supportCtx, stopSupport := context.WithCancel(ctx)
	support, supportCtx := errgroup.WithContext(supportCtx)
	support.Go(func() error { return svc.incidents.Run(supportCtx) })
	for _, run := range svc.background {
		support.Go(func() error { return run(supportCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range svc.schedulers {
		g.Go(func() error {
			rep, err := s.RunCycle(gctx)
			if err != nil {
				return err
			}
			a.logger.InfoContext(gctx, "cycle pass finished",
				slog.String("account", rep.AccountID),
				slog.String("date", rep.Date),
				slog.String("skipped", rep.Skipped),
				slog.Int("singles", len(rep.Singles)),
				slog.Int("parlay_tiers", len(rep.Parlays)),
				slog.Bool("completed", rep.Completed),
			)
			return nil
		})
	}
	err = g.Wait()

	stopSupport()
	if serr := support.Wait(); serr != nil && !errors.Is(serr, context.Canceled) {
		err = errors.Join(err, serr)
	}
	return err
}

// SettleMode runs only the reconciler, settling pending wagers from final
// results until ctx is cancelled.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	if !a.cfg.Reconcile.Enabled {
		a.logger.WarnContext(ctx, "reconcile.enabled is false, but settle mode always runs the reconciler")
	}

	ledger := a.newLedgerService(deps, nil, nil)
	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return a.serveMetrics(ctx, deps.Health)
		})
	}
	if err := a.runReconciler(ctx, g, deps, ledger); err != nil {
		return fmt.Errorf("settle mode: %w", err)
	}
	return g.Wait()
}

// buildServices wires the ledger, validator, feed and one scheduler per
// account, and opens any ledger that does not exist yet.
func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	svc := &services{}

	svc.incidents = service.NewIncidentReporter(
		deps.Incidents,
		deps.Notifier,
		deps.RateLimiter,
		service.IncidentReporterConfig{
			NotifyLimit:  a.cfg.Notify.NotifyLimit,
			NotifyWindow: a.cfg.Notify.NotifyWindow.Duration,
		},
		a.logger,
	)

	venue, runVenue, err := a.buildVenue(deps)
	if err != nil {
		return nil, err
	}
	if runVenue != nil {
		svc.background = append(svc.background, runVenue)
	}
	check := validator.New(svc.incidents, a.logger)
	svc.ledger = a.newLedgerService(deps, venue, check)

	predictions, runFeed, err := a.buildFeed(deps)
	if err != nil {
		return nil, err
	}
	if runFeed != nil {
		svc.background = append(svc.background, runFeed)
	}
	svc.feed = predictions

	strategies, err := parlay.NewRegistry().Chain(a.cfg.StrategyNames())
	if err != nil {
		return nil, err
	}

	for _, acct := range a.cfg.Accounts {
		loc, err := acct.Location()
		if err != nil {
			return nil, err
		}
		if _, err := svc.ledger.EnsureLedger(ctx, acct.ID, acct.OpeningCents, acct.MaxStakeFraction, acct.DailyLossCapCents); err != nil {
			return nil, fmt.Errorf("open ledger %s: %w", acct.ID, err)
		}
		svc.schedulers = append(svc.schedulers, scheduler.New(
			a.schedulerConfig(acct, loc),
			scheduler.Deps{
				Feed:       svc.feed,
				Ledger:     svc.ledger,
				Cycles:     deps.Cycles,
				Wagers:     deps.Wagers,
				Validator:  check,
				Strategies: strategies,
				Audit:      deps.Audit,
				Notifier:   deps.Notifier,
			},
			a.logger,
		))
	}
	return svc, nil
}

func (a *App) newLedgerService(deps *Dependencies, venue domain.ExecutionVenue, check service.WagerValidator) *service.LedgerService {
	locations := make(map[string]*time.Location, len(a.cfg.Accounts))
	for _, acct := range a.cfg.Accounts {
		if loc, err := acct.Location(); err == nil {
			locations[acct.ID] = loc
		}
	}

	opts := []service.LedgerOption{
		service.WithLockManager(deps.LockManager),
		service.WithEvents(deps.Events),
		service.WithAudit(deps.Audit),
	}
	if venue != nil {
		opts = append(opts, service.WithVenue(venue))
	}
	if check != nil {
		opts = append(opts, service.WithValidator(check))
	}
	return service.NewLedgerService(
		deps.Ledgers,
		deps.Wagers,
		service.LedgerConfig{
			AccountLocations: locations,
			LockTTL:          a.cfg.Redis.LockTTL.Duration,
			LockRetries:      3,
		},
		a.logger,
		opts...,
	)
}

func (a *App) schedulerConfig(acct config.AccountConfig, loc *time.Location) scheduler.Config {
	sc := a.cfg.Scheduler
	tiers := make([]parlay.Tier, len(a.cfg.Parlay.Tiers))
	for i, t := range a.cfg.Parlay.Tiers {
		tiers[i] = parlay.Tier{
			Name:                   t.Name,
			LegCount:               t.LegCount,
			MinLegs:                t.MinLegs,
			MaxLegs:                t.MaxLegs,
			MinLegConfidence:       t.MinLegConfidence,
			MinLegEdge:             t.MinLegEdge,
			MinCombinedProbability: t.MinCombinedProbability,
			StakeFraction:          t.StakeFraction,
		}
	}

	maxFraction := a.cfg.Staking.MaxFraction
	if acct.MaxStakeFraction > 0 && acct.MaxStakeFraction < maxFraction {
		maxFraction = acct.MaxStakeFraction
	}

	return scheduler.Config{
		AccountID:     acct.ID,
		Location:      loc,
		MaxSingles:    sc.MaxSingles,
		MinEdge:       sc.MinEdge,
		MinConfidence: sc.MinConfidence,
		Staking: staking.Params{
			Multiplier:    a.cfg.Staking.Multiplier,
			MaxFraction:   maxFraction,
			MinStakeCents: a.cfg.Staking.MinStakeCents,
		},
		Tiers:               tiers,
		LateNightCutoffHour: sc.LateNightCutoffHour,
		NextDayHorizon:      sc.NextDayHorizon.Duration,
		RetryDelay:          sc.RetryDelay.Duration,
		MaxRetryDelay:       sc.MaxRetryDelay.Duration,
		MaxSleep:            sc.MaxSleep.Duration,
	}
}

// buildVenue returns the execution venue and an optional goroutine it needs.
func (a *App) buildVenue(deps *Dependencies) (domain.ExecutionVenue, func(context.Context) error, error) {
	ec := a.cfg.Execution
	switch ec.Kind {
	case "paper":
		paper := executor.NewPaper(executor.PaperConfig{
			RatePerSecond: ec.RatePerSecond,
			Burst:         ec.Burst,
			DedupTTL:      ec.DedupTTL.Duration,
		}, a.logger)
		return paper, func(ctx context.Context) error {
			return paper.RunCleanup(ctx, dedupCleanupInterval)
		}, nil

	case "kafka":
		writer := events.NewKafkaWriter(a.cfg.Kafka.Brokers, ec.Topic)
		a.closers = append(a.closers, func() { _ = writer.Close() })
		var venue domain.ExecutionVenue = executor.NewKafkaVenue(writer, ec.DedupTTL.Duration)
		if deps.RateLimiter != nil {
			venue = executor.NewPaced(venue, deps.RateLimiter)
		}
		return venue, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported execution kind %q", ec.Kind)
	}
}

// buildFeed returns the prediction feed and an optional goroutine that keeps
// it current.
func (a *App) buildFeed(deps *Dependencies) (domain.PredictionFeed, func(context.Context) error, error) {
	fc := a.cfg.Feed
	switch fc.Kind {
	case "redis":
		if deps.SignalBus == nil {
			return nil, nil, errors.New("feed: redis feed needs a redis connection")
		}
		return feed.NewRedisStreamFeed(deps.SignalBus, fc.Stream, a.logger), nil, nil
	case "s3":
		if deps.BlobReader == nil {
			return nil, nil, errors.New("feed: s3 feed needs object storage")
		}
		return feed.NewS3Feed(deps.BlobReader, fc.Prefix, a.logger), nil, nil
	case "ws":
		ws := feed.NewWSFeed(fc.URL, fc.Sports, a.logger)
		return ws, ws.Run, nil
	case "file":
		return feed.NewFileFeed(fc.Path, a.logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported feed kind %q", fc.Kind)
	}
}

// startSupport launches the metrics server, the incident reporter and the
// feed and venue goroutines.
func (a *App) startSupport(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return a.serveMetrics(ctx, deps.Health)
		})
	}
	g.Go(func() error {
		return svc.incidents.Run(ctx)
	})
	for _, run := range svc.background {
		g.Go(func() error {
			return run(ctx)
		})
	}
}

// serveMetrics runs the metrics server. A failure is logged and swallowed so
// the schedulers sharing the group keep running.
func (a *App) serveMetrics(ctx context.Context, health metrics.HealthFunc) error {
	if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, health, a.logger); err != nil {
		a.logger.ErrorContext(ctx, "metrics server stopped",
			slog.String("addr", a.cfg.Metrics.Addr),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (a *App) startReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies, ledger *service.LedgerService) error {
	if !a.cfg.Reconcile.Enabled {
		a.logger.InfoContext(ctx, "reconciler disabled")
		return nil
	}
	return a.runReconciler(ctx, g, deps, ledger)
}

func (a *App) runReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies, ledger *service.LedgerService) error {
	if deps.SignalBus == nil {
		return errors.New("reconciler: results stream needs a redis connection")
	}
	results := feed.NewRedisResultSource(deps.SignalBus, a.cfg.Reconcile.ResultsStream, a.logger)
	rec := service.NewReconciler(ledger, deps.Wagers, results, a.logger)
	if deps.Notifier.Enabled() {
		rec.WithNotifier(deps.Notifier)
	}
	interval := a.cfg.Reconcile.Interval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	g.Go(func() error {
		return rec.Run(ctx, interval)
	})
	return nil
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled {
		return
	}
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "archive enabled but no archiver wired (needs postgres and s3)")
		return
	}
	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return arch.RunCron(ctx, a.cfg.Archive.Cron)
	})
}
