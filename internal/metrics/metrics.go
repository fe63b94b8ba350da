// Package metrics declares the Prometheus collectors exported by wagerbot
// and serves them alongside a health endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerbot_wagers_placed_total",
		Help: "Wagers committed to the ledger",
	}, []string{"type", "strategy"})

	WagersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerbot_wagers_settled_total",
		Help: "Wagers moved to a terminal state",
	}, []string{"status"})

	StakeCents = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wagerbot_stake_cents",
		Help:    "Stake size of placed wagers in cents",
		Buckets: prometheus.ExponentialBuckets(100, 2, 12),
	}, []string{"type"})

	ValidationRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerbot_validation_rejects_total",
		Help: "Predictions rejected by the schema gate",
	}, []string{"wager_type", "field"})

	Incidents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerbot_incidents_total",
		Help: "Data quality incidents recorded",
	}, []string{"severity"})

	CycleRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerbot_cycle_runs_total",
		Help: "Decision cycle outcomes",
	}, []string{"account", "result"})

	ParlayBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagerbot_parlay_builds_total",
		Help: "Parlay construction attempts by strategy and outcome",
	}, []string{"tier", "strategy", "result"})

	AvailableBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wagerbot_available_balance_cents",
		Help: "Available bankroll per account",
	}, []string{"account"})

	CurrentBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wagerbot_current_balance_cents",
		Help: "Current bankroll per account",
	}, []string{"account"})

	SchedulerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wagerbot_scheduler_state",
		Help: "Current scheduler state per account (0 idle, 1 evaluating, 2 placing, 3 waiting)",
	}, []string{"account"})
)
