package domain

import "time"

// ExitReason records why a position was force-exited.
type ExitReason string

const (
	ExitReasonLeggedPosition ExitReason = "legged_position"
	ExitReasonOracleDispute  ExitReason = "oracle_dispute"
	ExitReasonReconciliation ExitReason = "reconciliation_mismatch"
)

// EmergencyExit is an append-only log entry for a bounded-loss forced exit.
// Entries exist only for positions that passed through the legged state.
type EmergencyExit struct {
	ID           int64
	PositionID   string
	Reason       ExitReason
	RealizedLoss float64
	ExitedAt     time.Time
}
