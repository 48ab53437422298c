package domain

import "time"

// BreakerState is the circuit breaker's trading gate.
type BreakerState string

const (
	// BreakerArmed permits trading.
	BreakerArmed BreakerState = "armed"
	// BreakerTripped forbids trading; the cooldown timer has not elapsed.
	BreakerTripped BreakerState = "tripped"
	// BreakerCooldown forbids trading but the breaker is eligible for an
	// explicit manual reset. There is no automatic path back to Armed.
	BreakerCooldown BreakerState = "cooldown"
)

// TripReason identifies what tripped the circuit breaker.
type TripReason string

const (
	TripDailyLossExceeded  TripReason = "daily_loss_exceeded"
	TripDrawdownExceeded   TripReason = "drawdown_exceeded"
	TripFillRateBelowFloor TripReason = "fill_rate_below_floor"
	TripLatencyExceeded    TripReason = "latency_exceeded"
	TripApiErrorBurst      TripReason = "api_error_burst"
	// TripLeggedPositionStuck means an emergency exit failed: live,
	// unhedged capital is at risk. Always critical severity.
	TripLeggedPositionStuck TripReason = "legged_position_stuck"
	TripDualRpcFailure      TripReason = "dual_rpc_failure"
)

// BreakerEvent is an append-only log entry for a circuit breaker trip.
// It is never updated in place except to set ResetAt on manual reset.
type BreakerEvent struct {
	ID          int64
	Reason      TripReason
	TriggeredAt time.Time
	ResetAt     *time.Time
	Notes       string
}
