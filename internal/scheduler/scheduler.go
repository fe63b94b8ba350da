// Package scheduler runs the daily decision cycle for one account: evaluate
// the day's predictions, place singles and tiered parlays once per UTC date,
// then wait for the next local midnight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
	"github.com/alanyoungcy/wagerbot/internal/notify"
	"github.com/alanyoungcy/wagerbot/internal/parlay"
	"github.com/alanyoungcy/wagerbot/internal/staking"
)

// Ledger is the wager lifecycle the scheduler places through.
type Ledger interface {
	Ledger(ctx context.Context, accountID string) (domain.BankrollLedger, error)
	Place(ctx context.Context, w domain.Wager) (domain.Wager, error)
}

// Validator gates predictions before they are sized.
type Validator interface {
	Validate(ctx context.Context, rec domain.PredictionRecord) error
}

// Notifier receives the end-of-cycle summary.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config is the per-account scheduler configuration.
type Config struct {
	AccountID string
	// Location is the account calendar; Waiting ends at its midnight.
	Location *time.Location

	MaxSingles    int
	MinEdge       float64
	MinConfidence float64
	Staking       staking.Params
	Tiers         []parlay.Tier

	LateNightCutoffHour int
	NextDayHorizon      time.Duration

	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxSleep      time.Duration
}

// Deps are the scheduler's collaborators. Audit and Notifier may be nil.
type Deps struct {
	Feed       domain.PredictionFeed
	Ledger     Ledger
	Cycles     domain.CycleStateStore
	Wagers     domain.WagerStore
	Validator  Validator
	Strategies []parlay.Strategy
	Audit      domain.AuditStore
	Notifier   Notifier
	Clock      Clock
}

// TierOutcome records what happened to one parlay tier in a cycle.
type TierOutcome struct {
	Tier     string
	LegCount int
	Strategy string
	WagerID  string
	Reason   string
}

// CycleReport summarises one Evaluating and Placing pass.
type CycleReport struct {
	AccountID string
	Date      string
	// Skipped names why the pass placed nothing without evaluating:
	// "completed" or "daily_loss_cap".
	Skipped    string
	Considered int
	Rejected   int
	Filtered   int
	Singles    []string
	Parlays    []TierOutcome
	Completed  bool
}

// Scheduler is the decision loop for one account. Run it in its own
// goroutine; it shares nothing mutable with other accounts' schedulers.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	state  atomic.Int32
}

// New creates a Scheduler, filling zero config values with defaults.
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.NextDayHorizon <= 0 {
		cfg.NextDayHorizon = 6 * time.Hour
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 10 * cfg.RetryDelay
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = 15 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	tiers := make([]parlay.Tier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].LegCount < tiers[j].LegCount })
	cfg.Tiers = tiers

	return &Scheduler{
		cfg:  cfg,
		deps: deps,
		logger: logger.With(
			slog.String("component", "scheduler"),
			slog.String("account", cfg.AccountID),
		),
	}
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	metrics.SchedulerState.WithLabelValues(s.cfg.AccountID).Set(float64(st))
}

// Run loops Evaluating, Placing and Waiting until ctx is cancelled. Transient
// failures back off and retry; any other failure abandons the pass and the
// next activation starts over. A panic inside a pass is logged and treated
// like a failed pass.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started")
	defer s.logger.InfoContext(ctx, "scheduler stopped")
	defer s.setState(StateIdle)

	backoff := s.cfg.RetryDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		rep, err := s.safeCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case err == nil:
			backoff = s.cfg.RetryDelay
			s.logCycle(ctx, rep)
			if err := s.wait(ctx); err != nil {
				return nil
			}
			s.setState(StateIdle)
			continue
		case domain.IsTransient(err):
			metrics.CycleRuns.WithLabelValues(s.cfg.AccountID, "transient").Inc()
			s.logger.WarnContext(ctx, "source unavailable, backing off",
				slog.String("error", err.Error()),
				slog.Duration("delay", backoff),
			)
			s.setState(StateEvaluating)
			if s.deps.Clock.Sleep(ctx, backoff) != nil {
				return nil
			}
			backoff = min(backoff*2, s.cfg.MaxRetryDelay)
		default:
			metrics.CycleRuns.WithLabelValues(s.cfg.AccountID, "aborted").Inc()
			s.logger.ErrorContext(ctx, "cycle aborted",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", s.cfg.RetryDelay),
			)
			s.setState(StateIdle)
			if s.deps.Clock.Sleep(ctx, s.cfg.RetryDelay) != nil {
				return nil
			}
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context) (rep CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: cycle panic: %v", r)
		}
	}()
	return s.RunCycle(ctx)
}

func (s *Scheduler) logCycle(ctx context.Context, rep CycleReport) {
	if rep.Skipped != "" {
		metrics.CycleRuns.WithLabelValues(s.cfg.AccountID, "skipped").Inc()
		s.logger.DebugContext(ctx, "cycle skipped",
			slog.String("date", rep.Date),
			slog.String("reason", rep.Skipped),
		)
		return
	}
	metrics.CycleRuns.WithLabelValues(s.cfg.AccountID, "completed").Inc()
}

// wait sleeps until the next local midnight in slices of at most MaxSleep.
func (s *Scheduler) wait(ctx context.Context) error {
	s.setState(StateWaiting)
	until := NextMidnight(s.deps.Clock.Now(), s.cfg.Location)
	s.logger.InfoContext(ctx, "waiting for next day", slog.Time("until", until))

	for {
		remaining := until.Sub(s.deps.Clock.Now())
		if remaining <= 0 {
			return nil
		}
		if err := s.deps.Clock.Sleep(ctx, min(remaining, s.cfg.MaxSleep)); err != nil {
			return err
		}
	}
}

// RunCycle runs one Evaluating and Placing pass for the current UTC date.
// It is idempotent per date: once a pass completes, later calls on the same
// date return a report with Skipped set and place nothing.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	s.setState(StateEvaluating)
	now := s.deps.Clock.Now()
	date := domain.CycleDate(now)
	rep := CycleReport{AccountID: s.cfg.AccountID, Date: date}

	ledger, err := s.deps.Ledger.Ledger(ctx, s.cfg.AccountID)
	if err != nil {
		return rep, transient("ledger", err)
	}

	state, err := s.deps.Cycles.Get(ctx, s.cfg.AccountID, date)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = domain.DailyCycleState{AccountID: s.cfg.AccountID, Date: date}
	case err != nil:
		return rep, transient("cycle state", err)
	}
	if state.Completed {
		rep.Skipped = "completed"
		rep.Completed = true
		return rep, nil
	}
	if ledger.DailyLossBreached(now, s.cfg.Location) {
		rep.Skipped = "daily_loss_cap"
		s.logger.WarnContext(ctx, "daily loss cap reached",
			slog.Int64("daily_loss_cents", ledger.DailyLossToday(now, s.cfg.Location)),
			slog.Int64("cap_cents", ledger.DailyLossCap),
		)
		return rep, nil
	}

	from, to := Window(now, s.cfg.LateNightCutoffHour, s.cfg.NextDayHorizon)
	recs, err := s.deps.Feed.Predictions(ctx, from, to)
	if err != nil {
		return rep, transient("feed", err)
	}

	placed, err := s.placedToday(ctx, now)
	if err != nil {
		return rep, transient("wagers", err)
	}
	// A placement whose state save failed is still in the wager store.
	state.SinglesPlaced = max(state.SinglesPlaced, placed.singles)
	for _, n := range placed.tiers {
		state.MarkTier(n)
	}

	pool, dated := s.eligible(ctx, recs, now, from, to, &rep)

	s.setState(StatePlacing)
	available := ledger.AvailableBalance

	if err := s.placeSingles(ctx, pool, placed.predictions, &available, &state, &rep); err != nil {
		return rep, err
	}
	if err := s.placeParlays(ctx, pool, dated, &available, &state, &rep); err != nil {
		return rep, err
	}

	state.Completed = true
	if err := s.saveState(ctx, &state, now); err != nil {
		return rep, err
	}
	rep.Completed = true

	s.finish(ctx, rep)
	return rep, nil
}

func transient(source string, err error) error {
	if domain.IsTransient(err) {
		return err
	}
	return &domain.TransientError{Source: source, Err: err}
}

// dayWagers is what the account already placed on the current UTC date.
type dayWagers struct {
	// predictions backed as singles or as parlay legs.
	predictions map[string]bool
	singles     int
	tiers       []int
}

// placedToday reads the day's wagers. Cancelled wagers do not count.
func (s *Scheduler) placedToday(ctx context.Context, now time.Time) (dayWagers, error) {
	since := now.UTC().Truncate(day)
	ws, err := s.deps.Wagers.ListByAccount(ctx, s.cfg.AccountID, domain.ListOpts{Since: &since})
	if err != nil {
		return dayWagers{}, err
	}
	out := dayWagers{predictions: make(map[string]bool)}
	for _, w := range ws {
		if w.Status == domain.WagerStatusCancelled {
			continue
		}
		switch {
		case w.IsParlay():
			out.tiers = append(out.tiers, w.LegCount)
		case w.Strategy == domain.StrategySingle:
			out.singles++
		}
		if w.PredictionID != "" {
			out.predictions[w.PredictionID] = true
		}
		for _, l := range w.Legs {
			out.predictions[l.PredictionID] = true
		}
	}
	return out, nil
}

// eligible validates recs and keeps those inside the window. pool also
// clears the global edge and confidence floors and feeds singles and strict
// parlays; dated skips the floors and feeds relaxed parlays.
func (s *Scheduler) eligible(ctx context.Context, recs []domain.PredictionRecord, now, from, to time.Time, rep *CycleReport) (pool, dated []parlay.Candidate) {
	for _, rec := range recs {
		rep.Considered++
		if err := s.deps.Validator.Validate(ctx, rec); err != nil {
			rep.Rejected++
			continue
		}
		if rec.Started(now) || rec.StartTime.Before(from) || !rec.StartTime.Before(to) {
			rep.Filtered++
			continue
		}
		c, ok := parlay.CandidateFrom(rec)
		if !ok {
			rep.Filtered++
			continue
		}
		dated = append(dated, c)
		if c.Edge < s.cfg.MinEdge || c.Confidence < s.cfg.MinConfidence {
			rep.Filtered++
			continue
		}
		pool = append(pool, c)
	}
	return pool, dated
}

func (s *Scheduler) placeSingles(ctx context.Context, pool []parlay.Candidate, wagered map[string]bool, available *int64, state *domain.DailyCycleState, rep *CycleReport) error {
	for _, c := range parlay.Rank(pool) {
		if state.SinglesPlaced >= s.cfg.MaxSingles {
			return nil
		}
		if wagered[c.PredictionID] {
			continue
		}

		size := staking.Kelly(staking.Input{
			Probability:    c.Probability,
			DecimalPrice:   c.DecimalPrice,
			AvailableCents: *available,
		}, s.cfg.Staking)
		if size.StakeCents == 0 {
			s.logger.DebugContext(ctx, "single not staked",
				slog.String("prediction_id", c.PredictionID),
				slog.String("reason", size.Reason),
			)
			continue
		}

		placed, err := s.deps.Ledger.Place(ctx, domain.Wager{
			AccountID:     s.cfg.AccountID,
			Type:          c.WagerType,
			Sport:         c.Sport,
			GameID:        c.GameID,
			HomeTeam:      c.HomeTeam,
			AwayTeam:      c.AwayTeam,
			PredictionID:  c.PredictionID,
			Selection:     c.Selection,
			Line:          c.Line,
			StakeCents:    size.StakeCents,
			PriceAmerican: c.PriceAmerican,
			DecimalPrice:  c.DecimalPrice,
			Probability:   c.Probability,
			Strategy:      domain.StrategySingle,
		})
		if err != nil {
			if skip := s.skippable(ctx, c.PredictionID, err); skip {
				continue
			}
			return err
		}

		*available -= placed.StakeCents
		wagered[c.PredictionID] = true
		state.SinglesPlaced++
		rep.Singles = append(rep.Singles, placed.ID)
		if err := s.saveState(ctx, state, s.deps.Clock.Now()); err != nil {
			return err
		}
	}
	return nil
}

// skippable reports whether a placement error only rules out this candidate.
func (s *Scheduler) skippable(ctx context.Context, predictionID string, err error) bool {
	switch {
	case errors.Is(err, domain.ErrInsufficientBankroll),
		errors.Is(err, domain.ErrExecutionFailed),
		errors.Is(err, domain.ErrInvalidWager),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.As(err, new(*domain.ValidationError)):
		s.logger.WarnContext(ctx, "candidate skipped",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
		return true
	default:
		return false
	}
}

func (s *Scheduler) placeParlays(ctx context.Context, pool, dated []parlay.Candidate, available *int64, state *domain.DailyCycleState, rep *CycleReport) error {
	for _, tier := range s.cfg.Tiers {
		if state.TierPlaced(tier.LegCount) {
			continue
		}
		out := TierOutcome{Tier: tier.Name, LegCount: tier.LegCount}

		p, err := s.build(pool, dated, tier)
		if err != nil {
			out.Reason = err.Error()
			rep.Parlays = append(rep.Parlays, out)
			s.logger.InfoContext(ctx, "no parlay for tier",
				slog.String("tier", tier.Name),
				slog.String("reason", out.Reason),
			)
			continue
		}
		out.Strategy = p.Strategy

		stake := s.sizeParlay(p, tier, *available)
		if stake == 0 {
			out.Reason = "stake below minimum"
			rep.Parlays = append(rep.Parlays, out)
			continue
		}

		legs := make([]domain.ParlayLeg, len(p.Legs))
		for i, c := range p.Legs {
			legs[i] = c.Leg()
		}
		placed, err := s.deps.Ledger.Place(ctx, domain.Wager{
			AccountID:    s.cfg.AccountID,
			Type:         domain.WagerTypeParlay,
			StakeCents:   stake,
			DecimalPrice: p.CombinedDecimal,
			Probability:  p.CombinedProbability,
			Strategy:     p.Strategy,
			LegCount:     len(legs),
			Legs:         legs,
		})
		if err != nil {
			if s.skippable(ctx, tier.Name, err) {
				out.Reason = err.Error()
				rep.Parlays = append(rep.Parlays, out)
				continue
			}
			return err
		}

		*available -= placed.StakeCents
		out.WagerID = placed.ID
		rep.Parlays = append(rep.Parlays, out)
		state.MarkTier(tier.LegCount)
		if err := s.saveState(ctx, state, s.deps.Clock.Now()); err != nil {
			return err
		}
	}
	return nil
}

// build tries each strategy in order. Unfloored strategies draw from the
// dated pool. A same-game conflict is retried once with one candidate per
// game before moving to the next strategy.
func (s *Scheduler) build(pool, dated []parlay.Candidate, tier parlay.Tier) (parlay.Parlay, error) {
	var lastErr error = parlay.ErrNoParlay
	for _, strat := range s.deps.Strategies {
		cands := pool
		if u, ok := strat.(parlay.Unfloored); ok && u.Unfloored() {
			cands = dated
		}
		p, err := strat.Build(cands, tier, tier.LegCount)
		if err == nil && p.HasConflict() {
			p, err = strat.Build(parlay.DedupeByGame(cands), tier, tier.LegCount)
		}
		if err != nil {
			metrics.ParlayBuilds.WithLabelValues(tier.Name, strat.Name(), "rejected").Inc()
			lastErr = err
			continue
		}
		metrics.ParlayBuilds.WithLabelValues(tier.Name, strat.Name(), "built").Inc()
		return p, nil
	}
	return parlay.Parlay{}, lastErr
}

// sizeParlay stakes Kelly on the combined figures, falling back to the
// tier's flat fraction when the combination shows no edge.
func (s *Scheduler) sizeParlay(p parlay.Parlay, tier parlay.Tier, available int64) int64 {
	size := staking.Kelly(staking.Input{
		Probability:    p.CombinedProbability,
		DecimalPrice:   p.CombinedDecimal,
		AvailableCents: available,
	}, s.cfg.Staking)
	if size.StakeCents > 0 {
		return size.StakeCents
	}
	if size.Reason != staking.ReasonNoEdge || tier.StakeFraction <= 0 {
		return 0
	}
	return staking.Flat(tier.StakeFraction, available, s.cfg.Staking).StakeCents
}

func (s *Scheduler) saveState(ctx context.Context, state *domain.DailyCycleState, at time.Time) error {
	state.UpdatedAt = at.UTC()
	if err := s.deps.Cycles.Save(ctx, *state); err != nil {
		return &domain.PersistenceError{Op: "save cycle state", Err: err}
	}
	return nil
}

func (s *Scheduler) finish(ctx context.Context, rep CycleReport) {
	var parlays []string
	for _, p := range rep.Parlays {
		if p.WagerID != "" {
			parlays = append(parlays, fmt.Sprintf("%s (%s)", p.Tier, p.Strategy))
		}
	}

	s.logger.InfoContext(ctx, "cycle complete",
		slog.String("date", rep.Date),
		slog.Int("considered", rep.Considered),
		slog.Int("rejected", rep.Rejected),
		slog.Int("filtered", rep.Filtered),
		slog.Int("singles", len(rep.Singles)),
		slog.Any("parlays", parlays),
	)

	if s.deps.Audit != nil {
		if err := s.deps.Audit.Log(ctx, "cycle.completed", map[string]any{
			"account":  rep.AccountID,
			"date":     rep.Date,
			"singles":  len(rep.Singles),
			"parlays":  parlays,
			"rejected": rep.Rejected,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if s.deps.Notifier != nil {
		ledger, err := s.deps.Ledger.Ledger(ctx, s.cfg.AccountID)
		if err != nil {
			return
		}
		msg := notify.CycleSummary(rep.AccountID, rep.Date, len(rep.Singles), parlays, ledger)
		if err := s.deps.Notifier.Notify(ctx, notify.EventCycleSummary, "Daily cycle complete", msg); err != nil {
			s.logger.WarnContext(ctx, "cycle summary notification failed", slog.String("error", err.Error()))
		}
	}
}
