package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WagerStore implements domain.WagerStore using PostgreSQL. Balance-moving
// writes go through LedgerStore.
type WagerStore struct {
	pool *pgxpool.Pool
}

// NewWagerStore creates a new WagerStore backed by the given connection pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool}
}

const wagerSelectCols = `id, account_id, wager_type, sport, game_id, home_team, away_team,
	prediction_id, selection, line, stake_cents, price_american, decimal_price, probability,
	status, payout_cents, placed_at, settled_at, execution_id, strategy, leg_count`

func scanWager(row pgx.Row) (domain.Wager, error) {
	var w domain.Wager
	var wagerType, status string
	err := row.Scan(
		&w.ID, &w.AccountID, &wagerType, &w.Sport, &w.GameID, &w.HomeTeam, &w.AwayTeam,
		&w.PredictionID, &w.Selection, &w.Line, &w.StakeCents, &w.PriceAmerican, &w.DecimalPrice, &w.Probability,
		&status, &w.PayoutCents, &w.PlacedAt, &w.SettledAt, &w.ExecutionID, &w.Strategy, &w.LegCount,
	)
	if err != nil {
		return domain.Wager{}, err
	}
	w.Type = domain.WagerType(wagerType)
	w.Status = domain.WagerStatus(status)
	return w, nil
}

func scanWagerRows(rows pgx.Rows) ([]domain.Wager, error) {
	var out []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func insertWager(ctx context.Context, tx pgx.Tx, w domain.Wager) error {
	const query = `
		INSERT INTO wagers (
			id, account_id, wager_type, sport, game_id, home_team, away_team, prediction_id,
			selection, line, stake_cents, price_american, decimal_price, probability,
			status, placed_at, execution_id, strategy, leg_count
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19
		)`

	_, err := tx.Exec(ctx, query,
		w.ID, w.AccountID, string(w.Type), w.Sport, w.GameID, w.HomeTeam, w.AwayTeam, w.PredictionID,
		w.Selection, w.Line, w.StakeCents, w.PriceAmerican, w.DecimalPrice, w.Probability,
		string(w.Status), w.PlacedAt, w.ExecutionID, w.Strategy, w.LegCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert wager: %w", err)
	}
	if len(w.Legs) == 0 {
		return nil
	}

	const legQuery = `
		INSERT INTO parlay_legs (
			id, wager_id, position, prediction_id, sport, game_id, home_team, away_team,
			wager_type, selection, line, price_american, decimal_price, probability, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	batch := &pgx.Batch{}
	for i, l := range w.Legs {
		batch.Queue(legQuery,
			l.ID, w.ID, i, l.PredictionID, l.Sport, l.GameID, l.HomeTeam, l.AwayTeam,
			string(l.WagerType), l.Selection, l.Line, l.PriceAmerican, l.DecimalPrice, l.Probability, string(l.Result),
		)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := range w.Legs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert leg %d: %w", i, err)
		}
	}
	return nil
}

const legSelectCols = `id, wager_id, prediction_id, sport, game_id, home_team, away_team,
	wager_type, selection, line, price_american, decimal_price, probability, result`

func scanLegRows(rows pgx.Rows) ([]domain.ParlayLeg, error) {
	var out []domain.ParlayLeg
	for rows.Next() {
		var l domain.ParlayLeg
		var wagerType, result string
		if err := rows.Scan(
			&l.ID, &l.WagerID, &l.PredictionID, &l.Sport, &l.GameID, &l.HomeTeam, &l.AwayTeam,
			&wagerType, &l.Selection, &l.Line, &l.PriceAmerican, &l.DecimalPrice, &l.Probability, &result,
		); err != nil {
			return nil, err
		}
		l.WagerType = domain.WagerType(wagerType)
		l.Result = domain.WagerStatus(result)
		out = append(out, l)
	}
	return out, rows.Err()
}

func loadLegs(ctx context.Context, q querier, wagerID string) ([]domain.ParlayLeg, error) {
	rows, err := q.Query(ctx,
		`SELECT `+legSelectCols+` FROM parlay_legs WHERE wager_id = $1 ORDER BY position`, wagerID)
	if err != nil {
		return nil, fmt.Errorf("load legs: %w", err)
	}
	defer rows.Close()
	legs, err := scanLegRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan legs: %w", err)
	}
	return legs, nil
}

// attachLegs fills Legs for every parlay in ws with one query.
func attachLegs(ctx context.Context, q querier, ws []domain.Wager) error {
	var ids []string
	idx := make(map[string]int)
	for i, w := range ws {
		if w.IsParlay() {
			ids = append(ids, w.ID)
			idx[w.ID] = i
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := q.Query(ctx,
		`SELECT `+legSelectCols+` FROM parlay_legs WHERE wager_id = ANY($1) ORDER BY wager_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load legs: %w", err)
	}
	defer rows.Close()
	legs, err := scanLegRows(rows)
	if err != nil {
		return fmt.Errorf("scan legs: %w", err)
	}
	for _, l := range legs {
		i := idx[l.WagerID]
		ws[i].Legs = append(ws[i].Legs, l)
	}
	return nil
}

func (s *WagerStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	ws, err := scanWagerRows(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
	}
	if err := attachLegs(ctx, s.pool, ws); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return ws, nil
}

// GetByID returns a wager with its legs.
func (s *WagerStore) GetByID(ctx context.Context, id string) (domain.Wager, error) {
	w, err := scanWager(s.pool.QueryRow(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wager{}, domain.ErrNotFound
		}
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s: %w", id, err)
	}
	if w.IsParlay() {
		if w.Legs, err = loadLegs(ctx, s.pool, id); err != nil {
			return domain.Wager{}, fmt.Errorf("postgres: get wager %s: %w", id, err)
		}
	}
	return w, nil
}

// ListPending returns unsettled wagers, oldest first. An empty accountID
// lists every account.
func (s *WagerStore) ListPending(ctx context.Context, accountID string) ([]domain.Wager, error) {
	if accountID == "" {
		return s.list(ctx, "list pending wagers",
			`SELECT `+wagerSelectCols+` FROM wagers WHERE status = 'pending' ORDER BY placed_at`)
	}
	return s.list(ctx, "list pending wagers",
		`SELECT `+wagerSelectCols+` FROM wagers
		 WHERE account_id = $1 AND status = 'pending'
		 ORDER BY placed_at`, accountID)
}

// ListByAccount returns an account's wagers, oldest first, filtered by
// placement time.
func (s *WagerStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Wager, error) {
	query, args := windowed(
		`SELECT `+wagerSelectCols+` FROM wagers WHERE account_id = $1`,
		[]any{accountID}, "placed_at", false, opts)
	return s.list(ctx, "list wagers", query, args...)
}

// ListSettledBefore returns settled wagers whose settlement predates before.
func (s *WagerStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error) {
	return s.list(ctx, "list settled wagers",
		`SELECT `+wagerSelectCols+` FROM wagers
		 WHERE status <> 'pending' AND settled_at < $1
		 ORDER BY settled_at`, before)
}

// SetExecutionID records the venue acknowledgement id.
func (s *WagerStore) SetExecutionID(ctx context.Context, wagerID, executionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wagers SET execution_id = $2 WHERE id = $1`, wagerID, executionID)
	if err != nil {
		return fmt.Errorf("postgres: set execution id %s: %w", wagerID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpenLegs returns won, lost or pushed parlays that still have a pending
// leg, oldest settlement first.
func (s *WagerStore) ListOpenLegs(ctx context.Context) ([]domain.Wager, error) {
	return s.list(ctx, "list open legs",
		`SELECT `+wagerSelectCols+` FROM wagers w
		 WHERE wager_type = 'parlay' AND status IN ('won', 'lost', 'pushed')
		   AND EXISTS (SELECT 1 FROM parlay_legs l WHERE l.wager_id = w.id AND l.result = 'pending')
		 ORDER BY settled_at`)
}

// SetLegResult records one leg's result. The parent row is locked so the
// write serializes with its settlement; a settled parent still accepts leg
// results.
func (s *WagerStore) SetLegResult(ctx context.Context, wagerID, legID string, result domain.WagerStatus) (domain.Wager, error) {
	var out domain.Wager
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		w, err := scanWager(tx.QueryRow(ctx,
			`SELECT `+wagerSelectCols+` FROM wagers WHERE id = $1 FOR UPDATE`, wagerID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock wager: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE parlay_legs SET result = $3 WHERE id = $1 AND wager_id = $2`,
			legID, wagerID, string(result))
		if err != nil {
			return fmt.Errorf("update leg: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		if w.Legs, err = loadLegs(ctx, tx, wagerID); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: set leg result %s/%s: %w", wagerID, legID, err)
	}
	return out, nil
}
