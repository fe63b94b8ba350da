// Package memory implements the domain stores in process memory. It backs
// paper mode and tests; a single mutex over the whole DB gives the same
// atomicity the Postgres stores get from transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// DB is the shared in-memory state behind every store in this package.
type DB struct {
	mu        sync.Mutex
	ledgers   map[string]domain.BankrollLedger
	wagers    map[string]domain.Wager
	cycles    map[string]domain.DailyCycleState
	audit     []domain.AuditEntry
	incidents []domain.Incident
	nextID    int64
	now       func() time.Time
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		ledgers: make(map[string]domain.BankrollLedger),
		wagers:  make(map[string]domain.Wager),
		cycles:  make(map[string]domain.DailyCycleState),
		now:     time.Now,
	}
}

func (db *DB) id() int64 {
	db.nextID++
	return db.nextID
}

func cloneWager(w domain.Wager) domain.Wager {
	if w.Legs != nil {
		legs := make([]domain.ParlayLeg, len(w.Legs))
		copy(legs, w.Legs)
		w.Legs = legs
	}
	return w
}

func cloneCycle(s domain.DailyCycleState) domain.DailyCycleState {
	if s.ParlayTiersPlaced != nil {
		tiers := make([]int, len(s.ParlayTiersPlaced))
		copy(tiers, s.ParlayTiersPlaced)
		s.ParlayTiersPlaced = tiers
	}
	return s
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// LedgerStore implements domain.LedgerStore.
type LedgerStore struct{ db *DB }

// NewLedgerStore creates a LedgerStore over db.
func NewLedgerStore(db *DB) *LedgerStore { return &LedgerStore{db: db} }

// Get returns the ledger for accountID.
func (s *LedgerStore) Get(_ context.Context, accountID string) (domain.BankrollLedger, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	l, ok := s.db.ledgers[accountID]
	if !ok {
		return domain.BankrollLedger{}, domain.ErrNotFound
	}
	return l, nil
}

// Create opens a new ledger. It fails with ErrAlreadyExists for a known
// account.
func (s *LedgerStore) Create(_ context.Context, l domain.BankrollLedger) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.ledgers[l.AccountID]; ok {
		return domain.ErrAlreadyExists
	}
	s.db.ledgers[l.AccountID] = l
	return nil
}

// PlaceWager stores w and debits its stake in one step.
func (s *LedgerStore) PlaceWager(_ context.Context, w domain.Wager) (domain.BankrollLedger, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.wagers[w.ID]; ok {
		return domain.BankrollLedger{}, domain.ErrAlreadyExists
	}
	l, ok := s.db.ledgers[w.AccountID]
	if !ok {
		return domain.BankrollLedger{}, domain.ErrNotFound
	}
	if err := l.ApplyPlacement(w.StakeCents, w.PlacedAt); err != nil {
		return domain.BankrollLedger{}, err
	}
	w = cloneWager(w)
	for i := range w.Legs {
		w.Legs[i].WagerID = w.ID
	}
	s.db.ledgers[w.AccountID] = l
	s.db.wagers[w.ID] = w
	return l, nil
}

// SettleWager applies a terminal transition and the matching ledger credit.
func (s *LedgerStore) SettleWager(_ context.Context, st domain.Settlement) (domain.Wager, domain.BankrollLedger, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	w, ok := s.db.wagers[st.WagerID]
	if !ok {
		return domain.Wager{}, domain.BankrollLedger{}, domain.ErrNotFound
	}
	if w.Status.Terminal() {
		return domain.Wager{}, domain.BankrollLedger{}, domain.ErrAlreadySettled
	}
	l, ok := s.db.ledgers[w.AccountID]
	if !ok {
		return domain.Wager{}, domain.BankrollLedger{}, domain.ErrNotFound
	}
	if err := l.ApplySettlement(w.StakeCents, st.Status, st.PayoutCents, st.SettledAt, st.Location); err != nil {
		return domain.Wager{}, domain.BankrollLedger{}, err
	}

	payout := st.PayoutCents
	settledAt := st.SettledAt
	w.Status = st.Status
	w.PayoutCents = &payout
	w.SettledAt = &settledAt

	s.db.ledgers[w.AccountID] = l
	s.db.wagers[w.ID] = w
	return cloneWager(w), l, nil
}

// WagerStore implements domain.WagerStore.
type WagerStore struct{ db *DB }

// NewWagerStore creates a WagerStore over db.
func NewWagerStore(db *DB) *WagerStore { return &WagerStore{db: db} }

// GetByID returns a wager with its legs.
func (s *WagerStore) GetByID(_ context.Context, id string) (domain.Wager, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wagers[id]
	if !ok {
		return domain.Wager{}, domain.ErrNotFound
	}
	return cloneWager(w), nil
}

func (s *WagerStore) collect(match func(domain.Wager) bool) []domain.Wager {
	var out []domain.Wager
	for _, w := range s.db.wagers {
		if match(w) {
			out = append(out, cloneWager(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.After(out[j].PlacedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListPending returns unsettled wagers for accountID, or for every account
// when accountID is empty.
func (s *WagerStore) ListPending(_ context.Context, accountID string) ([]domain.Wager, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.collect(func(w domain.Wager) bool {
		return w.Status == domain.WagerStatusPending && (accountID == "" || w.AccountID == accountID)
	}), nil
}

// ListByAccount returns wagers placed inside the opts window, newest first.
func (s *WagerStore) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.Wager, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := s.collect(func(w domain.Wager) bool {
		return w.AccountID == accountID && inWindow(w.PlacedAt, opts)
	})
	return page(out, opts), nil
}

// ListSettledBefore returns settled wagers whose settlement predates before.
func (s *WagerStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Wager, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.collect(func(w domain.Wager) bool {
		return w.Status.Terminal() && w.SettledAt != nil && w.SettledAt.Before(before)
	}), nil
}

// SetExecutionID records the venue acknowledgement id.
func (s *WagerStore) SetExecutionID(_ context.Context, wagerID, executionID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wagers[wagerID]
	if !ok {
		return domain.ErrNotFound
	}
	w.ExecutionID = executionID
	s.db.wagers[wagerID] = w
	return nil
}

// ListOpenLegs returns won, lost or pushed parlays that still have a
// pending leg.
func (s *WagerStore) ListOpenLegs(_ context.Context) ([]domain.Wager, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.collect(func(w domain.Wager) bool {
		if !w.IsParlay() || !w.Status.Terminal() || w.Status == domain.WagerStatusCancelled {
			return false
		}
		for _, l := range w.Legs {
			if l.Result == domain.WagerStatusPending {
				return true
			}
		}
		return false
	}), nil
}

// SetLegResult records the result of one parlay leg. Legs of a settled
// parlay may still be recorded; the parent is left untouched.
func (s *WagerStore) SetLegResult(_ context.Context, wagerID, legID string, result domain.WagerStatus) (domain.Wager, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wagers[wagerID]
	if !ok {
		return domain.Wager{}, domain.ErrNotFound
	}
	w = cloneWager(w)
	for i := range w.Legs {
		if w.Legs[i].ID == legID {
			w.Legs[i].Result = result
			s.db.wagers[wagerID] = w
			return cloneWager(w), nil
		}
	}
	return domain.Wager{}, domain.ErrNotFound
}

// CycleStateStore implements domain.CycleStateStore.
type CycleStateStore struct{ db *DB }

// NewCycleStateStore creates a CycleStateStore over db.
func NewCycleStateStore(db *DB) *CycleStateStore { return &CycleStateStore{db: db} }

func cycleKey(accountID, date string) string { return accountID + "|" + date }

// Get returns the state for an account and date.
func (s *CycleStateStore) Get(_ context.Context, accountID, date string) (domain.DailyCycleState, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.cycles[cycleKey(accountID, date)]
	if !ok {
		return domain.DailyCycleState{}, domain.ErrNotFound
	}
	return cloneCycle(st), nil
}

// Save upserts the state.
func (s *CycleStateStore) Save(_ context.Context, st domain.DailyCycleState) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.cycles[cycleKey(st.AccountID, st.Date)] = cloneCycle(st)
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ db *DB }

// NewAuditStore creates an AuditStore over db.
func NewAuditStore(db *DB) *AuditStore { return &AuditStore{db: db} }

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        s.db.id(),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.db.now(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		if e := s.db.audit[i]; inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

// IncidentStore implements domain.IncidentStore.
type IncidentStore struct{ db *DB }

// NewIncidentStore creates an IncidentStore over db.
func NewIncidentStore(db *DB) *IncidentStore { return &IncidentStore{db: db} }

// Insert stores an incident.
func (s *IncidentStore) Insert(_ context.Context, inc domain.Incident) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	inc.ID = s.db.id()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.db.now()
	}
	s.db.incidents = append(s.db.incidents, inc)
	return nil
}

// List returns incidents newest first.
func (s *IncidentStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Incident, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Incident
	for i := len(s.db.incidents) - 1; i >= 0; i-- {
		if inc := s.db.incidents[i]; inWindow(inc.CreatedAt, opts) {
			out = append(out, inc)
		}
	}
	return page(out, opts), nil
}

// ListBefore returns incidents created before the cutoff.
func (s *IncidentStore) ListBefore(_ context.Context, before time.Time) ([]domain.Incident, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Incident
	for _, inc := range s.db.incidents {
		if inc.CreatedAt.Before(before) {
			out = append(out, inc)
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore     = (*LedgerStore)(nil)
	_ domain.WagerStore      = (*WagerStore)(nil)
	_ domain.CycleStateStore = (*CycleStateStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
	_ domain.IncidentStore   = (*IncidentStore)(nil)
)
