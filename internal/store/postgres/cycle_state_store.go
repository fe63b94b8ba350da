package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// CycleStateStore implements domain.CycleStateStore using PostgreSQL.
type CycleStateStore struct {
	pool *pgxpool.Pool
}

// NewCycleStateStore creates a new CycleStateStore backed by the given connection pool.
func NewCycleStateStore(pool *pgxpool.Pool) *CycleStateStore {
	return &CycleStateStore{pool: pool}
}

// Get returns the state for an account and UTC date.
func (s *CycleStateStore) Get(ctx context.Context, accountID, date string) (domain.DailyCycleState, error) {
	st := domain.DailyCycleState{AccountID: accountID, Date: date}
	var tiers []int32
	err := s.pool.QueryRow(ctx, `
		SELECT singles_placed, parlay_tiers_placed, completed, updated_at
		FROM daily_cycle_states
		WHERE account_id = $1 AND cycle_date = $2`,
		accountID, date,
	).Scan(&st.SinglesPlaced, &tiers, &st.Completed, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DailyCycleState{}, domain.ErrNotFound
		}
		return domain.DailyCycleState{}, fmt.Errorf("postgres: get cycle state %s/%s: %w", accountID, date, err)
	}
	for _, t := range tiers {
		st.ParlayTiersPlaced = append(st.ParlayTiersPlaced, int(t))
	}
	return st, nil
}

// Save upserts the state.
func (s *CycleStateStore) Save(ctx context.Context, st domain.DailyCycleState) error {
	tiers := make([]int32, len(st.ParlayTiersPlaced))
	for i, t := range st.ParlayTiersPlaced {
		tiers[i] = int32(t)
	}

	const query = `
		INSERT INTO daily_cycle_states (
			account_id, cycle_date, singles_placed, parlay_tiers_placed, completed, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, cycle_date) DO UPDATE SET
			singles_placed      = EXCLUDED.singles_placed,
			parlay_tiers_placed = EXCLUDED.parlay_tiers_placed,
			completed           = EXCLUDED.completed,
			updated_at          = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		st.AccountID, st.Date, st.SinglesPlaced, tiers, st.Completed, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save cycle state %s/%s: %w", st.AccountID, st.Date, err)
	}
	return nil
}
