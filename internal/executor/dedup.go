package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

type dedupEntry struct {
	ack  domain.ExecutionAck
	seen time.Time
}

// Dedup remembers the acknowledgement handed out for each wager so a
// resubmitted wager gets the same execution id instead of a second fill.
// It is safe for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]dedupEntry
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup that forgets wagers after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]dedupEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Lookup returns the earlier ack for wagerID if it is still remembered.
func (d *Dedup) Lookup(wagerID string) (domain.ExecutionAck, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.seen[wagerID]
	if !ok || d.now().Sub(e.seen) >= d.ttl {
		return domain.ExecutionAck{}, false
	}
	return e.ack, true
}

// Remember records the ack issued for wagerID.
func (d *Dedup) Remember(wagerID string, ack domain.ExecutionAck) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[wagerID] = dedupEntry{ack: ack, seen: d.now()}
}

// Cleanup drops expired entries. Call it periodically.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for id, e := range d.seen {
		if now.Sub(e.seen) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered wagers.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
