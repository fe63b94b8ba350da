package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// IncidentStore implements domain.IncidentStore using PostgreSQL.
type IncidentStore struct {
	pool *pgxpool.Pool
}

// NewIncidentStore creates a new IncidentStore backed by the given connection pool.
func NewIncidentStore(pool *pgxpool.Pool) *IncidentStore {
	return &IncidentStore{pool: pool}
}

// Insert stores an incident. A zero CreatedAt takes the database clock.
func (s *IncidentStore) Insert(ctx context.Context, inc domain.Incident) error {
	contextJSON, err := json.Marshal(inc.Context)
	if err != nil {
		return fmt.Errorf("postgres: marshal incident context: %w", err)
	}
	missing := inc.MissingFields
	if missing == nil {
		missing = []string{}
	}

	var createdAt *time.Time
	if !inc.CreatedAt.IsZero() {
		createdAt = &inc.CreatedAt
	}

	const query = `
		INSERT INTO data_incidents (severity, data_type, missing_fields, context, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`

	if _, err := s.pool.Exec(ctx, query,
		string(inc.Severity), inc.DataType, missing, contextJSON, createdAt,
	); err != nil {
		return fmt.Errorf("postgres: insert incident %s: %w", inc.DataType, err)
	}
	return nil
}

const incidentSelectCols = `id, severity, data_type, missing_fields, context, created_at`

func scanIncidentRows(rows pgx.Rows) ([]domain.Incident, error) {
	var out []domain.Incident
	for rows.Next() {
		var inc domain.Incident
		var severity string
		var contextJSON []byte
		if err := rows.Scan(&inc.ID, &severity, &inc.DataType, &inc.MissingFields, &contextJSON, &inc.CreatedAt); err != nil {
			return nil, err
		}
		inc.Severity = domain.Severity(severity)
		if contextJSON != nil {
			if err := json.Unmarshal(contextJSON, &inc.Context); err != nil {
				return nil, fmt.Errorf("unmarshal incident context: %w", err)
			}
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// List returns incidents newest first with pagination and optional time
// filtering.
func (s *IncidentStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Incident, error) {
	query, args := windowed(
		`SELECT `+incidentSelectCols+` FROM data_incidents WHERE 1=1`,
		nil, "created_at", true, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list incidents: %w", err)
	}
	defer rows.Close()

	incidents, err := scanIncidentRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan incidents: %w", err)
	}
	return incidents, nil
}

// ListBefore returns incidents created before the cutoff, oldest first.
func (s *IncidentStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentSelectCols+` FROM data_incidents WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list incidents before: %w", err)
	}
	defer rows.Close()

	incidents, err := scanIncidentRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan incidents: %w", err)
	}
	return incidents, nil
}
