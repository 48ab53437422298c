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

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, position_id, market_id, side, token,
	price, size, order_type, status, submitted_at, filled_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, token, otype, status string

	err := row.Scan(
		&o.ID, &o.PositionID, &o.MarketID, &side, &token,
		&o.Price, &o.Size, &otype, &status, &o.SubmittedAt, &o.FilledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Token = domain.Token(token)
	o.Type = domain.OrderType(otype)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new order. The foreign key enforces that an order always
// references an existing position.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, position_id, market_id, side, token,
			price, size, order_type, status, submitted_at, filled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.PositionID, o.MarketID, string(o.Side), string(o.Token),
		o.Price, o.Size, string(o.Type), string(o.Status), o.SubmittedAt, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns one order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// MarkFilled records a fill against a pending order.
func (s *OrderStore) MarkFilled(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE orders SET status = 'filled', filled_at = $2
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark order %s filled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRejected records a rejection against a pending order.
func (s *OrderStore) MarkRejected(ctx context.Context, id string) error {
	const query = `
		UPDATE orders SET status = 'rejected'
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark order %s rejected: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPending returns all orders still awaiting resolution, oldest first.
func (s *OrderStore) ListPending(ctx context.Context) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + `
		FROM orders WHERE status = 'pending' ORDER BY submitted_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending orders: %w", err)
	}
	return scanOrders(rows)
}

// ListByPosition returns all orders owned by a position, oldest first.
func (s *OrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + `
		FROM orders WHERE position_id = $1 ORDER BY submitted_at`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for position %s: %w", positionID, err)
	}
	return scanOrders(rows)
}
