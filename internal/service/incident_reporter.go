package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
)

// IncidentNotifier forwards incidents to operators.
type IncidentNotifier interface {
	NotifyIncident(ctx context.Context, inc domain.Incident) error
}

// IncidentReporterConfig tunes the reporter.
type IncidentReporterConfig struct {
	BufferSize int
	// NotifyLimit is the number of notifications allowed per data type in
	// NotifyWindow. Zero disables rate limiting.
	NotifyLimit  int
	NotifyWindow time.Duration
}

// IncidentReporter is the asynchronous IncidentSink. RecordIncident only
// enqueues; Run persists each incident and forwards it to the notifier. When
// the buffer is full the incident is logged and dropped.
type IncidentReporter struct {
	store    domain.IncidentStore
	notifier IncidentNotifier
	limiter  domain.RateLimiter
	cfg      IncidentReporterConfig
	queue    chan domain.Incident
	logger   *slog.Logger
	now      func() time.Time
}

var _ domain.IncidentSink = (*IncidentReporter)(nil)

// NewIncidentReporter creates an IncidentReporter. notifier and limiter may
// be nil.
func NewIncidentReporter(
	store domain.IncidentStore,
	notifier IncidentNotifier,
	limiter domain.RateLimiter,
	cfg IncidentReporterConfig,
	logger *slog.Logger,
) *IncidentReporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.NotifyWindow <= 0 {
		cfg.NotifyWindow = time.Hour
	}
	return &IncidentReporter{
		store:    store,
		notifier: notifier,
		limiter:  limiter,
		cfg:      cfg,
		queue:    make(chan domain.Incident, cfg.BufferSize),
		logger:   logger.With(slog.String("component", "incident_reporter")),
		now:      time.Now,
	}
}

// RecordIncident enqueues inc without blocking.
func (r *IncidentReporter) RecordIncident(ctx context.Context, inc domain.Incident) {
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = r.now().UTC()
	}
	metrics.Incidents.WithLabelValues(string(inc.Severity)).Inc()

	select {
	case r.queue <- inc:
	default:
		r.logger.WarnContext(ctx, "incident queue full, dropping",
			slog.String("severity", string(inc.Severity)),
			slog.String("data_type", inc.DataType),
			slog.Any("missing_fields", inc.MissingFields),
		)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *IncidentReporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return nil
		case inc := <-r.queue:
			r.deliver(ctx, inc)
		}
	}
}

func (r *IncidentReporter) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		select {
		case inc := <-r.queue:
			r.deliver(ctx, inc)
		default:
			return
		}
	}
}

func (r *IncidentReporter) deliver(ctx context.Context, inc domain.Incident) {
	if r.store != nil {
		if err := r.store.Insert(ctx, inc); err != nil {
			r.logger.ErrorContext(ctx, "persist incident failed",
				slog.String("data_type", inc.DataType),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.notifier == nil || !r.allowNotify(ctx, inc) {
		return
	}
	if err := r.notifier.NotifyIncident(ctx, inc); err != nil {
		r.logger.WarnContext(ctx, "incident notification failed",
			slog.String("data_type", inc.DataType),
			slog.String("error", err.Error()),
		)
	}
}

func (r *IncidentReporter) allowNotify(ctx context.Context, inc domain.Incident) bool {
	if r.limiter == nil || r.cfg.NotifyLimit <= 0 {
		return true
	}
	ok, err := r.limiter.Allow(ctx, "incident:"+inc.DataType, r.cfg.NotifyLimit, r.cfg.NotifyWindow)
	if err != nil {
		// Fail open: an unreachable limiter should not silence alerts.
		r.logger.WarnContext(ctx, "incident rate limiter unavailable",
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}
