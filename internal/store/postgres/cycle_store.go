package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// CycleStore implements domain.CycleStore on the cycle_reports table. The
// full report is kept as JSONB; the scalar columns exist for ad-hoc queries.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore backed by the given connection pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Insert journals one cycle report. Re-inserting an ID is a no-op.
func (s *CycleStore) Insert(ctx context.Context, r domain.CycleReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle report: %w", err)
	}

	var price, source any
	if r.Price != nil {
		price, source = r.Price.Price, r.Price.Source
	}

	const query = `
		INSERT INTO cycle_reports (
			id, owner, mode, started_at, duration_ms,
			price, price_source, decisions, error_count, report
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Owner, r.Mode, r.StartedAt, r.Duration.Milliseconds(),
		price, source, r.Decisions.String(), len(r.Errors), body,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle report %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns reports for owner, newest first. An empty owner lists
// every owner.
func (s *CycleStore) ListRecent(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.CycleReport, error) {
	q := newListQuery(`SELECT report FROM cycle_reports`)
	if owner != "" {
		q.and("owner = " + q.arg(owner))
	}
	q.filter("started_at", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycle reports: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle report: %w", err)
		}
		var r domain.CycleReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal cycle report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cycle reports rows: %w", err)
	}
	return out, nil
}

var _ domain.CycleStore = (*CycleStore)(nil)
