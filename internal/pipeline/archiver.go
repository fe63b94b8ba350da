// Package pipeline runs scheduled maintenance jobs, currently the
// cold-storage archive of settled wagers and old data incidents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Archiver copies records past their retention window to cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run archives wagers settled, and incidents created, more than
// retentionDays ago.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	wagers, err := a.blobArchiver.ArchiveWagers(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving wagers before %v: %w", cutoff, err)
	}
	incidents, err := a.blobArchiver.ArchiveIncidents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving incidents before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("wagers_archived", wagers),
		slog.Int64("incidents_archived", incidents),
	)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week") until ctx is cancelled. A failed run is
// logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		now := a.now().UTC()
		next, err := cron.next(now)
		if err != nil {
			return fmt.Errorf("cron %q: %w", cronExpr, err)
		}

		wait := next.Sub(now)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is the set of values one cron field accepts.
type cronField map[int]bool

// cronBounds are the inclusive ranges of minute, hour, day-of-month, month
// and day-of-week.
var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// parseCronField accepts "*", single values, "a-b" ranges and "/n" steps on
// either, joined by commas.
func parseCronField(field string, lo, hi int) (cronField, error) {
	set := make(cronField)
	for _, part := range strings.Split(field, ",") {
		rng, step := part, 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", part)
			}
			rng, step = base, n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var errA, errB error
			from, errA = strconv.Atoi(a)
			to, errB = strconv.Atoi(b)
			if errA != nil || errB != nil {
				return nil, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("%q outside %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// parsedCron is a parsed 5-field cron expression.
type parsedCron [5]cronField

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var c parsedCron
	for i, f := range fields {
		set, err := parseCronField(f, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		c[i] = set
	}
	return c, nil
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c[0][t.Minute()] &&
		c[1][t.Hour()] &&
		c[2][t.Day()] &&
		c[3][int(t.Month())] &&
		c[4][int(t.Weekday())]
}

// next returns the first minute after after that matches the expression,
// searching up to one year ahead.
func (c parsedCron) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within one year")
}
