package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// LedgerStore implements domain.LedgerStore. Placement and settlement lock
// the ledger row with SELECT ... FOR UPDATE so concurrent writers on one
// account serialize inside Postgres.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerSelectCols = `account_id, current_balance, available_balance,
	lifetime_wagered, lifetime_won, lifetime_lost, wins, losses, pushes,
	daily_loss, daily_loss_date, max_stake_fraction, daily_loss_cap, updated_at`

func scanLedger(row pgx.Row) (domain.BankrollLedger, error) {
	var l domain.BankrollLedger
	err := row.Scan(
		&l.AccountID, &l.CurrentBalance, &l.AvailableBalance,
		&l.LifetimeWagered, &l.LifetimeWon, &l.LifetimeLost,
		&l.Wins, &l.Losses, &l.Pushes,
		&l.DailyLoss, &l.DailyLossDate, &l.MaxStakeFraction, &l.DailyLossCap,
		&l.UpdatedAt,
	)
	return l, err
}

// Get returns the ledger for accountID.
func (s *LedgerStore) Get(ctx context.Context, accountID string) (domain.BankrollLedger, error) {
	l, err := scanLedger(s.pool.QueryRow(ctx,
		`SELECT `+ledgerSelectCols+` FROM ledgers WHERE account_id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BankrollLedger{}, domain.ErrNotFound
		}
		return domain.BankrollLedger{}, fmt.Errorf("postgres: get ledger %s: %w", accountID, err)
	}
	return l, nil
}

// Create opens a new ledger row.
func (s *LedgerStore) Create(ctx context.Context, l domain.BankrollLedger) error {
	const query = `
		INSERT INTO ledgers (
			account_id, current_balance, available_balance,
			max_stake_fraction, daily_loss_cap, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		l.AccountID, l.CurrentBalance, l.AvailableBalance,
		l.MaxStakeFraction, l.DailyLossCap, l.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create ledger %s: %w", l.AccountID, err)
	}
	return nil
}

// PlaceWager inserts w with its legs and debits the stake in one transaction.
func (s *LedgerStore) PlaceWager(ctx context.Context, w domain.Wager) (domain.BankrollLedger, error) {
	var out domain.BankrollLedger
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		l, err := lockLedger(ctx, tx, w.AccountID)
		if err != nil {
			return err
		}
		if err := l.ApplyPlacement(w.StakeCents, w.PlacedAt); err != nil {
			return err
		}
		if err := insertWager(ctx, tx, w); err != nil {
			return err
		}
		if err := updateLedger(ctx, tx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return domain.BankrollLedger{}, fmt.Errorf("postgres: place wager %s: %w", w.ID, err)
	}
	return out, nil
}

// SettleWager applies a terminal transition to the wager and the matching
// ledger credit in one transaction.
func (s *LedgerStore) SettleWager(ctx context.Context, st domain.Settlement) (domain.Wager, domain.BankrollLedger, error) {
	var (
		settled domain.Wager
		ledger  domain.BankrollLedger
	)
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		w, err := scanWager(tx.QueryRow(ctx,
			`SELECT `+wagerSelectCols+` FROM wagers WHERE id = $1 FOR UPDATE`, st.WagerID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock wager: %w", err)
		}
		if w.Status.Terminal() {
			return domain.ErrAlreadySettled
		}

		l, err := lockLedger(ctx, tx, w.AccountID)
		if err != nil {
			return err
		}
		if err := l.ApplySettlement(w.StakeCents, st.Status, st.PayoutCents, st.SettledAt, st.Location); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE wagers SET
				status       = $2,
				payout_cents = $3,
				settled_at   = $4
			WHERE id = $1`,
			w.ID, string(st.Status), st.PayoutCents, st.SettledAt,
		); err != nil {
			return fmt.Errorf("update wager: %w", err)
		}
		if err := updateLedger(ctx, tx, l); err != nil {
			return err
		}

		if w.Legs, err = loadLegs(ctx, tx, w.ID); err != nil {
			return err
		}
		payout := st.PayoutCents
		settledAt := st.SettledAt
		w.Status = st.Status
		w.PayoutCents = &payout
		w.SettledAt = &settledAt
		settled, ledger = w, l
		return nil
	})
	if err != nil {
		return domain.Wager{}, domain.BankrollLedger{}, fmt.Errorf("postgres: settle wager %s: %w", st.WagerID, err)
	}
	return settled, ledger, nil
}

func lockLedger(ctx context.Context, tx pgx.Tx, accountID string) (domain.BankrollLedger, error) {
	l, err := scanLedger(tx.QueryRow(ctx,
		`SELECT `+ledgerSelectCols+` FROM ledgers WHERE account_id = $1 FOR UPDATE`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BankrollLedger{}, domain.ErrNotFound
		}
		return domain.BankrollLedger{}, fmt.Errorf("lock ledger: %w", err)
	}
	return l, nil
}

func updateLedger(ctx context.Context, tx pgx.Tx, l domain.BankrollLedger) error {
	const query = `
		UPDATE ledgers SET
			current_balance   = $2,
			available_balance = $3,
			lifetime_wagered  = $4,
			lifetime_won      = $5,
			lifetime_lost     = $6,
			wins              = $7,
			losses            = $8,
			pushes            = $9,
			daily_loss        = $10,
			daily_loss_date   = $11,
			updated_at        = $12
		WHERE account_id = $1`

	_, err := tx.Exec(ctx, query,
		l.AccountID, l.CurrentBalance, l.AvailableBalance,
		l.LifetimeWagered, l.LifetimeWon, l.LifetimeLost,
		l.Wins, l.Losses, l.Pushes,
		l.DailyLoss, l.DailyLossDate, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return nil
}
