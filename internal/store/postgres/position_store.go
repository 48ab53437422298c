package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"weatheredge/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, strategy, side, correlation_key,
	yes_shares, no_shares, entry_price, cost, status, opened_at, closed_at, pnl`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.ID, &p.MarketID, &p.Strategy, &side, &p.CorrelationKey,
		&p.YesShares, &p.NoShares, &p.EntryPrice, &p.Cost,
		&status, &p.OpenedAt, &p.ClosedAt, &p.PnL,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, market_id, strategy, side, correlation_key,
			yes_shares, no_shares, entry_price, cost,
			status, opened_at, closed_at, pnl, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.Strategy, string(p.Side), p.CorrelationKey,
		p.YesShares, p.NoShares, p.EntryPrice, p.Cost,
		string(p.Status), p.OpenedAt, p.ClosedAt, p.PnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns one position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns positions in any of the given statuses, oldest first.
func (s *PositionStore) ListByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]domain.Position, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE status = ANY($1) ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query, vals)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	return scanPositions(rows)
}

// Close finalizes a position exactly once; closing an already-closed or
// unknown position fails with ErrNotFound.
func (s *PositionStore) Close(ctx context.Context, id string, pnl float64, closedAt time.Time) error {
	const query = `
		UPDATE positions
		SET status = 'closed', pnl = $2, closed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status <> 'closed'`

	tag, err := s.pool.Exec(ctx, query, id, pnl, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkLegged forces a position into the legged state.
func (s *PositionStore) MarkLegged(ctx context.Context, id string) error {
	const query = `
		UPDATE positions SET status = 'legged', updated_at = NOW()
		WHERE id = $1 AND status <> 'closed'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s legged: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateShares overwrites a position's share counts.
func (s *PositionStore) UpdateShares(ctx context.Context, id string, yesShares, noShares float64) error {
	const query = `
		UPDATE positions SET yes_shares = $2, no_shares = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, yesShares, noShares)
	if err != nil {
		return fmt.Errorf("postgres: update shares for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountOpen counts positions still open or legged.
func (s *PositionStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE status <> 'closed'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open positions: %w", err)
	}
	return n, nil
}

// SumOpenCost sums the committed capital of all unresolved positions.
func (s *PositionStore) SumOpenCost(ctx context.Context) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM positions WHERE status <> 'closed'`,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum open cost: %w", err)
	}
	return sum, nil
}

// ListClosed returns closed positions in opened order.
func (s *PositionStore) ListClosed(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE status = 'closed' ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	return scanPositions(rows)
}

// CountOpenedSince counts positions opened at or after the given instant.
func (s *PositionStore) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE opened_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count positions opened since %s: %w", since, err)
	}
	return n, nil
}

// SumPnLClosedSince sums realized P&L of positions closed at or after the
// given instant.
func (s *PositionStore) SumPnLClosedSince(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM positions
		 WHERE status = 'closed' AND closed_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl closed since %s: %w", since, err)
	}
	return sum, nil
}

// CountByCorrelationKeySince counts positions per correlation key opened at
// or after the given instant.
func (s *PositionStore) CountByCorrelationKeySince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT correlation_key, COUNT(*) FROM positions
		 WHERE opened_at >= $1 AND correlation_key <> ''
		 GROUP BY correlation_key`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: count by correlation key since %s: %w", since, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan correlation count: %w", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}
