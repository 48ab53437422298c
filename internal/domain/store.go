package domain

import (
	"context"
	"time"
)

// PositionStore persists positions. All mutating operations must be durable
// before returning success.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByStatus(ctx context.Context, statuses ...PositionStatus) ([]Position, error)
	// Close sets status, pnl and closed_at exactly once; it fails with
	// ErrNotFound when the position is already closed.
	Close(ctx context.Context, id string, pnl float64, closedAt time.Time) error
	MarkLegged(ctx context.Context, id string) error
	UpdateShares(ctx context.Context, id string, yesShares, noShares float64) error
	CountOpen(ctx context.Context) (int, error)
	SumOpenCost(ctx context.Context) (float64, error)
	// ListClosed returns closed positions ordered by opened_at ascending,
	// the replay order for rebuilding the equity tracker.
	ListClosed(ctx context.Context) ([]Position, error)
	CountOpenedSince(ctx context.Context, since time.Time) (int, error)
	SumPnLClosedSince(ctx context.Context, since time.Time) (float64, error)
	CountByCorrelationKeySince(ctx context.Context, since time.Time) (map[string]int, error)
}

// OrderStore persists orders belonging to positions.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	MarkFilled(ctx context.Context, id string, at time.Time) error
	MarkRejected(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]Order, error)
	ListByPosition(ctx context.Context, positionID string) ([]Order, error)
}

// BreakerEventStore persists the circuit breaker's append-only event log.
type BreakerEventStore interface {
	Append(ctx context.Context, ev BreakerEvent) (int64, error)
	MarkReset(ctx context.Context, id int64, at time.Time) error
	// LatestOpen returns the most recent event without a reset_at, or
	// ErrNotFound when the breaker has no unresolved trip.
	LatestOpen(ctx context.Context) (BreakerEvent, error)
}

// EmergencyExitStore persists emergency exit records.
type EmergencyExitStore interface {
	Append(ctx context.Context, exit EmergencyExit) error
	ListByPosition(ctx context.Context, positionID string) ([]EmergencyExit, error)
}

// AuditEntry is a single audit log row. Every approval is audited with the
// snapshot values the decision was based on.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExecutionClient is the exchange/RPC collaborator. Failover between
// redundant endpoints is the collaborator's responsibility; the engine sees
// only success, timeout, or error.
type ExecutionClient interface {
	// SubmitOrder submits the order and returns its fill. Orders the
	// exchange declines (including killed FOK orders) return ErrOrderRejected.
	SubmitOrder(ctx context.Context, order Order) (Fill, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, *Fill, error)
	// OnChainBalance queries the authoritative held share counts for a market.
	OnChainBalance(ctx context.Context, marketID string) (yesShares, noShares float64, err error)
}

// GasOracle reports the current operational cost of execution.
type GasOracle interface {
	GasPriceGwei(ctx context.Context) (float64, error)
}

// Quote is a cached market price with its provenance.
type Quote struct {
	Price     float64
	Tag       string
	UpdatedAt time.Time
}

// QuoteCache is the concurrent quote cache collaborator, consulted by the
// proposal sources rather than by the engine itself.
type QuoteCache interface {
	Get(ctx context.Context, key string) (Quote, error)
	Put(ctx context.Context, key string, price float64, strategyTag string) error
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alerter delivers operator alerts. Fire-and-forget: delivery failure must
// never block a trading decision, only be logged by the implementation.
type Alerter interface {
	Send(ctx context.Context, severity Severity, title, message string)
}
