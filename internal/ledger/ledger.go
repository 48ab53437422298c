// Package ledger is the durable position ledger: the single source of truth
// for positions, orders, emergency exits and breaker events. Every mutating
// call is durable before it returns success.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"weatheredge/internal/domain"
)

// shareEpsilon is the tolerance for comparing fractional share counts.
const shareEpsilon = 1e-6

// Ledger wraps the persistent stores behind the operations the engine needs.
// Serialization of mutations is the engine's job; the ledger only guarantees
// durability and the data invariants.
type Ledger struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	exits     domain.EmergencyExitStore
	events    domain.BreakerEventStore
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Ledger over the given stores.
func New(
	positions domain.PositionStore,
	orders domain.OrderStore,
	exits domain.EmergencyExitStore,
	events domain.BreakerEventStore,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		positions: positions,
		orders:    orders,
		exits:     exits,
		events:    events,
		logger:    logger.With(slog.String("component", "ledger")),
		now:       time.Now,
	}
}

// Open records a new position and returns its id. The cost basis must equal
// entry price times total shares; a proposal-to-position conversion that
// breaks this invariant is a bug upstream and is refused.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) (string, error) {
	want := pos.EntryPrice * pos.TotalShares()
	if math.Abs(pos.Cost-want) > shareEpsilon*math.Max(1, math.Abs(want)) {
		return "", fmt.Errorf("ledger: cost %.6f does not equal entry %.6f x shares %.6f",
			pos.Cost, pos.EntryPrice, pos.TotalShares())
	}

	if pos.ID == "" {
		pos.ID = uuid.New().String()
	}
	if pos.Status == "" {
		pos.Status = domain.PositionStatusOpen
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = l.now().UTC()
	}

	if err := l.positions.Create(ctx, pos); err != nil {
		return "", &domain.PersistenceError{Op: "create position", Err: err}
	}
	l.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("strategy", pos.Strategy),
		slog.Float64("cost", pos.Cost),
	)
	return pos.ID, nil
}

// RecordOrder persists a submitted order owned by an existing position.
func (l *Ledger) RecordOrder(ctx context.Context, order domain.Order) (string, error) {
	if order.PositionID == "" {
		return "", fmt.Errorf("ledger: order has no position id")
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.SubmittedAt.IsZero() {
		order.SubmittedAt = l.now().UTC()
	}
	if err := l.orders.Create(ctx, order); err != nil {
		return "", &domain.PersistenceError{Op: "create order", Err: err}
	}
	return order.ID, nil
}

// MarkOrderFilled records a fill against its order.
func (l *Ledger) MarkOrderFilled(ctx context.Context, orderID string, at time.Time) error {
	if err := l.orders.MarkFilled(ctx, orderID, at); err != nil {
		return &domain.PersistenceError{Op: "mark order filled", Err: err}
	}
	return nil
}

// MarkOrderRejected records an order rejection.
func (l *Ledger) MarkOrderRejected(ctx context.Context, orderID string) error {
	if err := l.orders.MarkRejected(ctx, orderID); err != nil {
		return &domain.PersistenceError{Op: "mark order rejected", Err: err}
	}
	return nil
}

// Close finalizes a position with its realized P&L. Once closed, P&L and
// closed_at never mutate again; a second Close fails.
func (l *Ledger) Close(ctx context.Context, positionID string, exitPrice, realizedPnL float64) error {
	if err := l.positions.Close(ctx, positionID, realizedPnL, l.now().UTC()); err != nil {
		if err == domain.ErrNotFound {
			return fmt.Errorf("ledger: close %s: %w", positionID, err)
		}
		return &domain.PersistenceError{Op: "close position", Err: err}
	}
	l.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", positionID),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", realizedPnL),
	)
	return nil
}

// MarkLegged forces a position into the legged state.
func (l *Ledger) MarkLegged(ctx context.Context, positionID string) error {
	if err := l.positions.MarkLegged(ctx, positionID); err != nil {
		return &domain.PersistenceError{Op: "mark position legged", Err: err}
	}
	l.logger.WarnContext(ctx, "position marked legged",
		slog.String("position_id", positionID),
	)
	return nil
}

// UpdateShares overwrites a position's share counts. Used when the
// execution venue or the chain, not the local ledger, is the authority on
// what actually filled.
func (l *Ledger) UpdateShares(ctx context.Context, positionID string, yes, no float64) error {
	if err := l.positions.UpdateShares(ctx, positionID, yes, no); err != nil {
		return &domain.PersistenceError{Op: "update position shares", Err: err}
	}
	return nil
}

// OrderByID returns one order by id.
func (l *Ledger) OrderByID(ctx context.Context, id string) (domain.Order, error) {
	return l.orders.GetByID(ctx, id)
}

// ListOpen returns open positions.
func (l *Ledger) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return l.positions.ListByStatus(ctx, domain.PositionStatusOpen)
}

// GetPosition returns one position by id.
func (l *Ledger) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	return l.positions.GetByID(ctx, id)
}

// PendingOrders returns all orders still awaiting a fill or rejection.
func (l *Ledger) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return l.orders.ListPending(ctx)
}

// OrdersFor returns the orders owned by a position.
func (l *Ledger) OrdersFor(ctx context.Context, positionID string) ([]domain.Order, error) {
	return l.orders.ListByPosition(ctx, positionID)
}

// LogEmergencyExit appends an emergency exit record.
func (l *Ledger) LogEmergencyExit(ctx context.Context, exit domain.EmergencyExit) error {
	if exit.ExitedAt.IsZero() {
		exit.ExitedAt = l.now().UTC()
	}
	if err := l.exits.Append(ctx, exit); err != nil {
		return &domain.PersistenceError{Op: "append emergency exit", Err: err}
	}
	return nil
}

// LogBreakerEvent appends a circuit breaker event and returns its id.
func (l *Ledger) LogBreakerEvent(ctx context.Context, ev domain.BreakerEvent) (int64, error) {
	id, err := l.events.Append(ctx, ev)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "append breaker event", Err: err}
	}
	return id, nil
}

// CountOpen returns the number of open or legged positions.
func (l *Ledger) CountOpen(ctx context.Context) (int, error) {
	return l.positions.CountOpen(ctx)
}

// SumOpenCost returns the capital tied up in open positions.
func (l *Ledger) SumOpenCost(ctx context.Context) (float64, error) {
	return l.positions.SumOpenCost(ctx)
}

// ClosedPositions returns closed positions in opened-at order (the equity
// replay order).
func (l *Ledger) ClosedPositions(ctx context.Context) ([]domain.Position, error) {
	return l.positions.ListClosed(ctx)
}

// CountOpenedSince returns the trade count since the given instant.
func (l *Ledger) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	return l.positions.CountOpenedSince(ctx, since)
}

// SumPnLClosedSince returns realized P&L of positions closed since the instant.
func (l *Ledger) SumPnLClosedSince(ctx context.Context, since time.Time) (float64, error) {
	return l.positions.SumPnLClosedSince(ctx, since)
}

// CountByCorrelationKeySince returns per-key opened counts since the instant.
func (l *Ledger) CountByCorrelationKeySince(ctx context.Context, since time.Time) (map[string]int, error) {
	return l.positions.CountByCorrelationKeySince(ctx, since)
}
