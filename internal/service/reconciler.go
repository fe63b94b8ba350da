package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// ReconcileReport counts what one reconciliation pass did.
type ReconcileReport struct {
	Checked int
	Settled int
	Legs    int
	Skipped int
}

// SettlementNotifier is told about every wager the reconciler settles.
type SettlementNotifier interface {
	NotifySettlement(ctx context.Context, w domain.Wager) error
}

// Reconciler settles pending wagers from final game results. It is the
// external settlement path that runs alongside the schedulers; the ledger
// service serializes it against placements on the same account.
type Reconciler struct {
	ledger   *LedgerService
	wagers   domain.WagerStore
	results  domain.ResultSource
	notifier SettlementNotifier
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(ledger *LedgerService, wagers domain.WagerStore, results domain.ResultSource, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:  ledger,
		wagers:  wagers,
		results: results,
		logger:  logger.With(slog.String("component", "reconciler")),
	}
}

// WithNotifier sends an alert for each settled wager.
func (r *Reconciler) WithNotifier(n SettlementNotifier) *Reconciler {
	r.notifier = n
	return r
}

// Run reconciles every interval until ctx is cancelled. Pass failures are
// logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "reconcile pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile runs one pass over all pending wagers, then records late leg
// results on parlays that settled before every leg finished. Results are
// keyed by game id.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport

	pending, err := r.wagers.ListPending(ctx, "")
	if err != nil {
		return rep, fmt.Errorf("reconciler: list pending: %w", err)
	}
	open, err := r.wagers.ListOpenLegs(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconciler: list open legs: %w", err)
	}
	if len(pending) == 0 && len(open) == 0 {
		return rep, nil
	}

	results, err := r.results.Results(ctx)
	if err != nil {
		return rep, &domain.TransientError{Source: "results", Err: err}
	}

	for _, w := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Checked++

		var settled bool
		if w.IsParlay() {
			settled, err = r.reconcileParlay(ctx, w, results, &rep)
		} else {
			settled, err = r.reconcileSingle(ctx, w, results)
		}
		if settled {
			rep.Settled++
		}
		if err != nil {
			r.skip(ctx, w, err, &rep)
		}
	}

	for _, w := range open {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if _, err := r.reconcileParlay(ctx, w, results, &rep); err != nil {
			r.skip(ctx, w, err, &rep)
		}
	}

	if rep.Settled > 0 || rep.Legs > 0 {
		r.logger.InfoContext(ctx, "reconcile pass complete",
			slog.Int("checked", rep.Checked),
			slog.Int("settled", rep.Settled),
			slog.Int("legs", rep.Legs),
			slog.Int("skipped", rep.Skipped),
		)
	}
	return rep, nil
}

func (r *Reconciler) skip(ctx context.Context, w domain.Wager, err error, rep *ReconcileReport) {
	rep.Skipped++
	if errors.Is(err, domain.ErrAlreadySettled) {
		return
	}
	r.logger.WarnContext(ctx, "settle failed",
		slog.String("wager_id", w.ID),
		slog.String("error", err.Error()),
	)
}

func (r *Reconciler) reconcileSingle(ctx context.Context, w domain.Wager, results map[string]domain.GameResult) (bool, error) {
	res, ok := results[w.GameID]
	if !ok {
		return false, nil
	}
	outcome := Grade(Selection{Type: w.Type, Selection: w.Selection, Line: w.Line}, res)
	if outcome == domain.WagerStatusPending {
		return false, nil
	}
	settled, err := r.ledger.Settle(ctx, w.ID, outcome, nil)
	if err != nil {
		return false, err
	}
	r.notify(ctx, settled)
	return true, nil
}

// reconcileParlay settles a pending parlay whose stored legs already decide
// it, then records every newly graded leg. On a settled parlay only the legs
// are recorded.
func (r *Reconciler) reconcileParlay(ctx context.Context, w domain.Wager, results map[string]domain.GameResult, rep *ReconcileReport) (bool, error) {
	pending := !w.Status.Terminal()
	var settled bool
	if pending {
		if status, _ := domain.ResolveParlay(w.Legs); status.Terminal() {
			updated, err := r.ledger.SettleParlay(ctx, w.ID)
			if err != nil {
				return false, err
			}
			r.notify(ctx, updated)
			settled = true
		}
	}

	for _, leg := range w.Legs {
		if leg.Result.Terminal() {
			continue
		}
		res, ok := results[leg.GameID]
		if !ok {
			continue
		}
		outcome := Grade(Selection{Type: leg.WagerType, Selection: leg.Selection, Line: leg.Line}, res)
		if outcome == domain.WagerStatusPending {
			continue
		}

		updated, err := r.ledger.SettleLeg(ctx, w.ID, leg.ID, outcome)
		if err != nil {
			return settled, err
		}
		rep.Legs++
		if pending && !settled && updated.Status.Terminal() {
			r.notify(ctx, updated)
			settled = true
		}
	}
	return settled, nil
}

func (r *Reconciler) notify(ctx context.Context, w domain.Wager) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifySettlement(ctx, w); err != nil {
		r.logger.WarnContext(ctx, "settlement notification failed",
			slog.String("wager_id", w.ID),
			slog.String("error", err.Error()),
		)
	}
}
