package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore persists bankroll ledgers. PlaceWager and SettleWager are the
// only write paths for balances; each runs the wager write and the ledger
// update in one atomic unit.
type LedgerStore interface {
	Get(ctx context.Context, accountID string) (BankrollLedger, error)
	Create(ctx context.Context, ledger BankrollLedger) error
	PlaceWager(ctx context.Context, w Wager) (BankrollLedger, error)
	SettleWager(ctx context.Context, s Settlement) (Wager, BankrollLedger, error)
}

// WagerStore reads wagers and records non-balance updates.
type WagerStore interface {
	GetByID(ctx context.Context, id string) (Wager, error)
	ListPending(ctx context.Context, accountID string) ([]Wager, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Wager, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Wager, error)
	ListOpenLegs(ctx context.Context) ([]Wager, error)
	SetExecutionID(ctx context.Context, wagerID, executionID string) error
	SetLegResult(ctx context.Context, wagerID, legID string, result WagerStatus) (Wager, error)
}

// CycleStateStore persists the per-account, per-date scheduler progress.
type CycleStateStore interface {
	Get(ctx context.Context, accountID, date string) (DailyCycleState, error)
	Save(ctx context.Context, state DailyCycleState) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
