package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
	"github.com/alanyoungcy/wagerbot/internal/oddsmath"
	"github.com/alanyoungcy/wagerbot/internal/validator"
)

// WagerValidator gates a wager before it is committed.
type WagerValidator interface {
	ValidateWager(ctx context.Context, w domain.Wager) error
}

// LedgerConfig tunes the ledger service.
type LedgerConfig struct {
	// Location is the default account calendar used for the daily loss
	// reset.
	Location *time.Location
	// AccountLocations overrides Location per account id.
	AccountLocations map[string]*time.Location
	// LockTTL bounds how long the distributed ledger lock may be held.
	LockTTL time.Duration
	// LockRetries is how many times a held lock is retried before giving up.
	LockRetries int
	// LockRetryDelay is the wait between lock attempts.
	LockRetryDelay time.Duration
}

// LedgerService owns the wager lifecycle. It is the only component that
// changes balances: placement debits the available balance in the same
// atomic unit that persists the wager, and settlement credits it in the same
// unit that records the terminal state. Operations on one account are
// serialized by an in-process mutex and, when a LockManager is wired, by a
// distributed lock so several processes can share a database.
type LedgerService struct {
	ledgers   domain.LedgerStore
	wagers    domain.WagerStore
	validator WagerValidator
	venue     domain.ExecutionVenue
	locks     domain.LockManager
	events    domain.EventPublisher
	audit     domain.AuditStore
	cfg       LedgerConfig
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

// LedgerOption configures optional collaborators.
type LedgerOption func(*LedgerService)

// WithValidator replaces the default wager validator, usually with one that
// reports rejections as incidents.
func WithValidator(v WagerValidator) LedgerOption {
	return func(s *LedgerService) { s.validator = v }
}

// WithVenue routes committed wagers to an execution venue.
func WithVenue(v domain.ExecutionVenue) LedgerOption {
	return func(s *LedgerService) { s.venue = v }
}

// WithLockManager adds a distributed per-account lock.
func WithLockManager(l domain.LockManager) LedgerOption {
	return func(s *LedgerService) { s.locks = l }
}

// WithEvents publishes wager lifecycle events.
func WithEvents(p domain.EventPublisher) LedgerOption {
	return func(s *LedgerService) { s.events = p }
}

// WithAudit records placements and settlements in the audit log.
func WithAudit(a domain.AuditStore) LedgerOption {
	return func(s *LedgerService) { s.audit = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(s *LedgerService) { s.now = now }
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(
	ledgers domain.LedgerStore,
	wagers domain.WagerStore,
	cfg LedgerConfig,
	logger *slog.Logger,
	opts ...LedgerOption,
) *LedgerService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 100 * time.Millisecond
	}
	s := &LedgerService{
		ledgers:   ledgers,
		wagers:    wagers,
		validator: validator.New(nil, logger),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "ledger_service")),
		now:       time.Now,
		accounts:  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Location returns the calendar of an account.
func (s *LedgerService) Location(accountID string) *time.Location {
	if loc, ok := s.cfg.AccountLocations[accountID]; ok && loc != nil {
		return loc
	}
	return s.cfg.Location
}

// EnsureLedger returns the account ledger, opening it with the given
// starting balance and limits when it does not exist yet.
func (s *LedgerService) EnsureLedger(ctx context.Context, accountID string, opening int64, maxStakeFraction float64, dailyLossCap int64) (domain.BankrollLedger, error) {
	l, err := s.ledgers.Get(ctx, accountID)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.BankrollLedger{}, &domain.TransientError{Source: "ledger", Err: err}
	}

	l = domain.NewLedger(accountID, opening, maxStakeFraction, dailyLossCap, s.now().UTC())
	if err := s.ledgers.Create(ctx, l); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.Ledger(ctx, accountID)
		}
		return domain.BankrollLedger{}, &domain.PersistenceError{Op: "create ledger", Err: err}
	}

	s.logger.InfoContext(ctx, "ledger opened",
		slog.String("account", accountID),
		slog.Int64("opening_cents", opening),
	)
	s.observeBalances(l)
	return l, nil
}

// Ledger reads the account ledger. Store failures are reported as
// transient so callers back off and retry.
func (s *LedgerService) Ledger(ctx context.Context, accountID string) (domain.BankrollLedger, error) {
	l, err := s.ledgers.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BankrollLedger{}, fmt.Errorf("ledger_service: ledger %s: %w", accountID, err)
		}
		return domain.BankrollLedger{}, &domain.TransientError{Source: "ledger", Err: err}
	}
	return l, nil
}

// Place validates a new wager, commits it as pending and debits its stake,
// then hands it to the execution venue. A wager failing validation returns a
// *domain.ValidationError and moves no money. When the venue rejects the
// wager it is cancelled and the stake released; the returned error then
// wraps ErrExecutionFailed.
func (s *LedgerService) Place(ctx context.Context, w domain.Wager) (domain.Wager, error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.PlacedAt.IsZero() {
		w.PlacedAt = s.now().UTC()
	}
	if w.Status == "" {
		w.Status = domain.WagerStatusPending
	}
	if w.IsParlay() {
		w.LegCount = len(w.Legs)
		for i := range w.Legs {
			if w.Legs[i].ID == "" {
				w.Legs[i].ID = uuid.New().String()
			}
			w.Legs[i].WagerID = w.ID
			if w.Legs[i].Result == "" {
				w.Legs[i].Result = domain.WagerStatusPending
			}
		}
	}
	if err := w.Check(); err != nil {
		return domain.Wager{}, fmt.Errorf("ledger_service: place: %w", err)
	}
	if err := s.validator.ValidateWager(ctx, w); err != nil {
		return domain.Wager{}, fmt.Errorf("ledger_service: place %s: %w", w.ID, err)
	}

	unlock, err := s.lockAccount(ctx, w.AccountID)
	if err != nil {
		return domain.Wager{}, err
	}
	ledger, err := s.ledgers.PlaceWager(ctx, w)
	unlock()
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBankroll) || errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Wager{}, fmt.Errorf("ledger_service: place %s: %w", w.ID, err)
		}
		return domain.Wager{}, &domain.PersistenceError{Op: "place wager", Err: err}
	}

	metrics.WagersPlaced.WithLabelValues(string(w.Type), w.Strategy).Inc()
	metrics.StakeCents.WithLabelValues(string(w.Type)).Observe(float64(w.StakeCents))
	s.observeBalances(ledger)

	s.logger.InfoContext(ctx, "wager placed",
		slog.String("wager_id", w.ID),
		slog.String("account", w.AccountID),
		slog.String("type", string(w.Type)),
		slog.String("strategy", w.Strategy),
		slog.Int64("stake_cents", w.StakeCents),
		slog.Float64("decimal_price", w.DecimalPrice),
		slog.Int64("available_cents", ledger.AvailableBalance),
	)
	s.auditLog(ctx, "wager.placed", map[string]any{
		"wager_id":    w.ID,
		"account":     w.AccountID,
		"type":        string(w.Type),
		"strategy":    w.Strategy,
		"stake_cents": w.StakeCents,
		"price":       w.DecimalPrice,
		"legs":        w.LegCount,
	})
	s.publish(ctx, "wager_placed", w, 0)

	if s.venue == nil {
		return w, nil
	}

	ack, err := s.venue.Submit(ctx, executionRequest(w))
	if err != nil {
		s.logger.WarnContext(ctx, "execution rejected, cancelling wager",
			slog.String("wager_id", w.ID),
			slog.String("error", err.Error()),
		)
		cancelled, cerr := s.Settle(ctx, w.ID, domain.WagerStatusCancelled, nil)
		if cerr != nil {
			return w, fmt.Errorf("ledger_service: cancel %s after execution failure: %w", w.ID, cerr)
		}
		return cancelled, fmt.Errorf("ledger_service: execute %s: %w: %v", w.ID, domain.ErrExecutionFailed, err)
	}

	w.ExecutionID = ack.ExecutionID
	if err := s.wagers.SetExecutionID(ctx, w.ID, ack.ExecutionID); err != nil {
		s.logger.WarnContext(ctx, "record execution id failed",
			slog.String("wager_id", w.ID),
			slog.String("execution_id", ack.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
	return w, nil
}

func executionRequest(w domain.Wager) domain.ExecutionRequest {
	req := domain.ExecutionRequest{
		WagerID:    w.ID,
		AccountID:  w.AccountID,
		Type:       w.Type,
		StakeCents: w.StakeCents,
		Price:      w.DecimalPrice,
	}
	if w.IsParlay() {
		for _, l := range w.Legs {
			req.Selections = append(req.Selections, l.GameID+":"+l.Selection)
		}
	} else {
		req.Selections = []string{w.GameID + ":" + w.Selection}
	}
	return req
}

// Settle moves a pending wager to a terminal state and credits the ledger.
// When payout is nil it is derived from the wager's own price: the full
// return for Won, the stake for Pushed, zero otherwise.
func (s *LedgerService) Settle(ctx context.Context, wagerID string, outcome domain.WagerStatus, payout *int64) (domain.Wager, error) {
	if !outcome.Terminal() {
		return domain.Wager{}, fmt.Errorf("ledger_service: settle %s to %s: %w", wagerID, outcome, domain.ErrInvalidTransition)
	}
	w, err := s.wagers.GetByID(ctx, wagerID)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("ledger_service: get wager %s: %w", wagerID, err)
	}
	if w.Status.Terminal() {
		return domain.Wager{}, fmt.Errorf("ledger_service: settle %s: %w", wagerID, domain.ErrAlreadySettled)
	}

	amount := settlementPayout(w.StakeCents, w.DecimalPrice, outcome)
	if payout != nil {
		amount = *payout
	}

	unlock, err := s.lockAccount(ctx, w.AccountID)
	if err != nil {
		return domain.Wager{}, err
	}
	defer unlock()
	return s.settleLocked(ctx, w, outcome, amount)
}

// SettleLeg records one parlay leg result. A lost leg settles the parent as
// lost at once; otherwise the parent settles once every leg has resolved,
// paid from the product of the winning legs' prices. Legs of an already
// settled parlay are recorded without moving money.
func (s *LedgerService) SettleLeg(ctx context.Context, wagerID, legID string, result domain.WagerStatus) (domain.Wager, error) {
	if !result.Terminal() {
		return domain.Wager{}, fmt.Errorf("ledger_service: leg %s to %s: %w", legID, result, domain.ErrInvalidTransition)
	}
	w, err := s.wagers.GetByID(ctx, wagerID)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("ledger_service: get wager %s: %w", wagerID, err)
	}
	if !w.IsParlay() {
		return domain.Wager{}, fmt.Errorf("ledger_service: wager %s is not a parlay: %w", wagerID, domain.ErrInvalidTransition)
	}

	unlock, err := s.lockAccount(ctx, w.AccountID)
	if err != nil {
		return domain.Wager{}, err
	}
	defer unlock()

	w, err = s.wagers.SetLegResult(ctx, wagerID, legID, result)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("ledger_service: set leg %s: %w", legID, err)
	}
	if w.Status.Terminal() {
		return w, nil
	}
	return s.resolveLocked(ctx, w)
}

// SettleParlay settles a pending parlay from the leg results already stored.
// It returns the parlay unchanged while the legs leave it undecided.
func (s *LedgerService) SettleParlay(ctx context.Context, wagerID string) (domain.Wager, error) {
	w, err := s.wagers.GetByID(ctx, wagerID)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("ledger_service: get wager %s: %w", wagerID, err)
	}
	if !w.IsParlay() {
		return domain.Wager{}, fmt.Errorf("ledger_service: wager %s is not a parlay: %w", wagerID, domain.ErrInvalidTransition)
	}

	unlock, err := s.lockAccount(ctx, w.AccountID)
	if err != nil {
		return domain.Wager{}, err
	}
	defer unlock()

	if w, err = s.wagers.GetByID(ctx, wagerID); err != nil {
		return domain.Wager{}, fmt.Errorf("ledger_service: get wager %s: %w", wagerID, err)
	}
	if w.Status.Terminal() {
		return domain.Wager{}, fmt.Errorf("ledger_service: settle %s: %w", wagerID, domain.ErrAlreadySettled)
	}
	return s.resolveLocked(ctx, w)
}

func (s *LedgerService) resolveLocked(ctx context.Context, w domain.Wager) (domain.Wager, error) {
	status, price := domain.ResolveParlay(w.Legs)
	if status == domain.WagerStatusPending {
		return w, nil
	}

	var amount int64
	switch status {
	case domain.WagerStatusWon:
		amount = oddsmath.Payout(w.StakeCents, price)
	case domain.WagerStatusPushed:
		amount = w.StakeCents
	}
	return s.settleLocked(ctx, w, status, amount)
}

func settlementPayout(stake int64, price float64, outcome domain.WagerStatus) int64 {
	switch outcome {
	case domain.WagerStatusWon:
		return oddsmath.Payout(stake, price)
	case domain.WagerStatusPushed:
		return stake
	default:
		return 0
	}
}

func (s *LedgerService) settleLocked(ctx context.Context, w domain.Wager, outcome domain.WagerStatus, payout int64) (domain.Wager, error) {
	settled, ledger, err := s.ledgers.SettleWager(ctx, domain.Settlement{
		WagerID:     w.ID,
		Status:      outcome,
		PayoutCents: payout,
		SettledAt:   s.now().UTC(),
		Location:    s.Location(w.AccountID),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) || errors.Is(err, domain.ErrInvalidTransition) {
			return domain.Wager{}, fmt.Errorf("ledger_service: settle %s: %w", w.ID, err)
		}
		return domain.Wager{}, &domain.PersistenceError{Op: "settle wager", Err: err}
	}

	metrics.WagersSettled.WithLabelValues(string(outcome)).Inc()
	s.observeBalances(ledger)

	s.logger.InfoContext(ctx, "wager settled",
		slog.String("wager_id", w.ID),
		slog.String("account", w.AccountID),
		slog.String("status", string(outcome)),
		slog.Int64("stake_cents", w.StakeCents),
		slog.Int64("payout_cents", payout),
		slog.Int64("current_cents", ledger.CurrentBalance),
	)
	s.auditLog(ctx, "wager.settled", map[string]any{
		"wager_id":     w.ID,
		"account":      w.AccountID,
		"status":       string(outcome),
		"stake_cents":  w.StakeCents,
		"payout_cents": payout,
	})
	s.publish(ctx, "wager_settled", settled, payout)
	return settled, nil
}

func (s *LedgerService) accountMutex(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.accounts[accountID]
	if !ok {
		m = &sync.Mutex{}
		s.accounts[accountID] = m
	}
	return m
}

// lockAccount serializes ledger writes for one account. The returned
// function releases every lock taken.
func (s *LedgerService) lockAccount(ctx context.Context, accountID string) (func(), error) {
	m := s.accountMutex(accountID)
	m.Lock()
	if s.locks == nil {
		return m.Unlock, nil
	}

	for attempt := 0; ; attempt++ {
		release, err := s.locks.Acquire(ctx, "ledger:"+accountID, s.cfg.LockTTL)
		if err == nil {
			return func() {
				release()
				m.Unlock()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || attempt >= s.cfg.LockRetries {
			m.Unlock()
			return nil, &domain.TransientError{Source: "ledger lock", Err: err}
		}

		timer := time.NewTimer(s.cfg.LockRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.Unlock()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *LedgerService) observeBalances(l domain.BankrollLedger) {
	metrics.AvailableBalance.WithLabelValues(l.AccountID).Set(float64(l.AvailableBalance))
	metrics.CurrentBalance.WithLabelValues(l.AccountID).Set(float64(l.CurrentBalance))
}

func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) publish(ctx context.Context, kind string, w domain.Wager, payout int64) {
	if s.events == nil {
		return
	}
	ev := domain.WagerEvent{
		Kind:        kind,
		WagerID:     w.ID,
		AccountID:   w.AccountID,
		Type:        w.Type,
		Status:      w.Status,
		StakeCents:  w.StakeCents,
		PayoutCents: payout,
		Strategy:    w.Strategy,
		LegCount:    w.LegCount,
		At:          s.now().UTC(),
	}
	if err := s.events.PublishWagerEvent(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "publish wager event failed",
			slog.String("wager_id", w.ID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
