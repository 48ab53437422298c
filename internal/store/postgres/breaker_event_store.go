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

// BreakerEventStore implements domain.BreakerEventStore using PostgreSQL.
type BreakerEventStore struct {
	pool *pgxpool.Pool
}

// NewBreakerEventStore creates a new BreakerEventStore backed by the given
// connection pool.
func NewBreakerEventStore(pool *pgxpool.Pool) *BreakerEventStore {
	return &BreakerEventStore{pool: pool}
}

// Append inserts a trip event and returns its id.
func (s *BreakerEventStore) Append(ctx context.Context, ev domain.BreakerEvent) (int64, error) {
	const query = `
		INSERT INTO circuit_breaker_events (reason, triggered_at, reset_at, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		string(ev.Reason), ev.TriggeredAt, ev.ResetAt, ev.Notes,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: append breaker event: %w", err)
	}
	return id, nil
}

// MarkReset stamps the reset time onto an unresolved trip event.
func (s *BreakerEventStore) MarkReset(ctx context.Context, id int64, at time.Time) error {
	const query = `
		UPDATE circuit_breaker_events SET reset_at = $2
		WHERE id = $1 AND reset_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark breaker event %d reset: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LatestOpen returns the most recent trip without a reset, or ErrNotFound.
func (s *BreakerEventStore) LatestOpen(ctx context.Context) (domain.BreakerEvent, error) {
	const query = `
		SELECT id, reason, triggered_at, reset_at, notes
		FROM circuit_breaker_events
		WHERE reset_at IS NULL
		ORDER BY triggered_at DESC
		LIMIT 1`

	var ev domain.BreakerEvent
	var reason string
	err := s.pool.QueryRow(ctx, query).Scan(
		&ev.ID, &reason, &ev.TriggeredAt, &ev.ResetAt, &ev.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BreakerEvent{}, domain.ErrNotFound
		}
		return domain.BreakerEvent{}, fmt.Errorf("postgres: latest open breaker event: %w", err)
	}
	ev.Reason = domain.TripReason(reason)
	return ev, nil
}
