package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"weatheredge/internal/domain"
)

// EmergencyExitStore implements domain.EmergencyExitStore using PostgreSQL.
type EmergencyExitStore struct {
	pool *pgxpool.Pool
}

// NewEmergencyExitStore creates a new EmergencyExitStore backed by the given
// connection pool.
func NewEmergencyExitStore(pool *pgxpool.Pool) *EmergencyExitStore {
	return &EmergencyExitStore{pool: pool}
}

// Append inserts an emergency exit record.
func (s *EmergencyExitStore) Append(ctx context.Context, exit domain.EmergencyExit) error {
	const query = `
		INSERT INTO emergency_exits (position_id, reason, realized_loss, exited_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query,
		exit.PositionID, string(exit.Reason), exit.RealizedLoss, exit.ExitedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append emergency exit for %s: %w", exit.PositionID, err)
	}
	return nil
}

// ListByPosition returns every emergency exit recorded for a position.
func (s *EmergencyExitStore) ListByPosition(ctx context.Context, positionID string) ([]domain.EmergencyExit, error) {
	const query = `
		SELECT id, position_id, reason, realized_loss, exited_at
		FROM emergency_exits WHERE position_id = $1 ORDER BY exited_at`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list emergency exits for %s: %w", positionID, err)
	}
	defer rows.Close()

	var exits []domain.EmergencyExit
	for rows.Next() {
		var e domain.EmergencyExit
		var reason string
		if err := rows.Scan(&e.ID, &e.PositionID, &reason, &e.RealizedLoss, &e.ExitedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan emergency exit: %w", err)
		}
		e.Reason = domain.ExitReason(reason)
		exits = append(exits, e)
	}
	return exits, rows.Err()
}
