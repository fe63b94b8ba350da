package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Snapshot holds the latest version of each prediction, keyed by
// PredictionRecord.Key. Push-based sources write into it and serve reads
// from it. It is safe for concurrent use.
type Snapshot struct {
	mu      sync.RWMutex
	records map[string]domain.PredictionRecord
	updated time.Time
}

// NewSnapshot creates an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{records: make(map[string]domain.PredictionRecord)}
}

// Upsert stores recs, replacing earlier versions with the same key.
func (s *Snapshot) Upsert(at time.Time, recs ...domain.PredictionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.records[r.Key()] = r
	}
	s.updated = at
}

// Prune drops records whose game started before cutoff.
func (s *Snapshot) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.records {
		if !r.StartTime.IsZero() && r.StartTime.Before(cutoff) {
			delete(s.records, k)
			n++
		}
	}
	return n
}

// Window returns records starting in [from, to), ordered by key.
func (s *Snapshot) Window(from, to time.Time) []domain.PredictionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for k, r := range s.records {
		if inWindow(r, from, to) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]domain.PredictionRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k])
	}
	return out
}

// Len returns the number of records held.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// UpdatedAt returns the time of the last Upsert.
func (s *Snapshot) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
