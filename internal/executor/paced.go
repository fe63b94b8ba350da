package executor

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Paced gates a venue behind a shared rate limiter keyed by account, so
// several processes submitting for one account stay inside a single quota.
type Paced struct {
	venue   domain.ExecutionVenue
	limiter domain.RateLimiter
}

// NewPaced wraps venue.
func NewPaced(venue domain.ExecutionVenue, limiter domain.RateLimiter) *Paced {
	return &Paced{venue: venue, limiter: limiter}
}

// Submit implements domain.ExecutionVenue.
func (p *Paced) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionAck, error) {
	if err := p.limiter.Wait(ctx, "execution:"+req.AccountID); err != nil {
		return domain.ExecutionAck{}, fmt.Errorf("executor: pace %s: %w", req.AccountID, err)
	}
	return p.venue.Submit(ctx, req)
}

var _ domain.ExecutionVenue = (*Paced)(nil)
