// Package executor implements execution venues. A venue receives a wager
// only after the ledger has committed it and answers with an ack; fills and
// settlement happen elsewhere.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// PaperConfig tunes the paper venue.
type PaperConfig struct {
	// RatePerSecond paces submissions per account. Zero disables pacing.
	RatePerSecond float64
	Burst         int
	DedupTTL      time.Duration
}

// Paper is a simulated venue: every well-formed request is acknowledged with
// a fresh execution id. Submissions are paced per account and repeated
// wager ids get their original ack back.
type Paper struct {
	cfg    PaperConfig
	dedup  *Dedup
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPaper creates a paper venue.
func NewPaper(cfg PaperConfig, logger *slog.Logger) *Paper {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	return &Paper{
		cfg:      cfg,
		dedup:    NewDedup(cfg.DedupTTL),
		logger:   logger.With(slog.String("component", "paper_venue")),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *Paper) limiter(accountID string) *rate.Limiter {
	if p.cfg.RatePerSecond <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[accountID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.cfg.RatePerSecond), p.cfg.Burst)
		p.limiters[accountID] = l
	}
	return l
}

// Submit implements domain.ExecutionVenue.
func (p *Paper) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionAck, error) {
	if req.WagerID == "" || req.StakeCents <= 0 || len(req.Selections) == 0 {
		return domain.ExecutionAck{}, fmt.Errorf("paper: malformed request for wager %q", req.WagerID)
	}
	if ack, ok := p.dedup.Lookup(req.WagerID); ok {
		p.logger.DebugContext(ctx, "duplicate submission", slog.String("wager_id", req.WagerID))
		return ack, nil
	}

	if l := p.limiter(req.AccountID); l != nil {
		if err := l.Wait(ctx); err != nil {
			return domain.ExecutionAck{}, fmt.Errorf("paper: pace %s: %w", req.AccountID, err)
		}
	}

	ack := domain.ExecutionAck{
		ExecutionID: "paper-" + uuid.NewString(),
		AcceptedAt:  time.Now().UTC(),
	}
	p.dedup.Remember(req.WagerID, ack)

	p.logger.InfoContext(ctx, "paper execution",
		slog.String("wager_id", req.WagerID),
		slog.String("execution_id", ack.ExecutionID),
		slog.String("type", string(req.Type)),
		slog.Int64("stake_cents", req.StakeCents),
		slog.Float64("price", req.Price),
		slog.Any("selections", req.Selections),
	)
	return ack, nil
}

// RunCleanup prunes the dedup cache every interval until ctx is cancelled.
func (p *Paper) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.dedup.Cleanup(); n > 0 {
				p.logger.DebugContext(ctx, "dedup cleanup", slog.Int("removed", n))
			}
		}
	}
}

var _ domain.ExecutionVenue = (*Paper)(nil)
