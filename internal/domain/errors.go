package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrCooldownNotElapsed = errors.New("cooldown not elapsed")
	ErrBreakerNotTripped  = errors.New("circuit breaker not tripped")
	// ErrEmergencyExitFailed is fatal to the current trading session: a
	// legged position could not be force-exited and manual intervention is
	// required. The engine never retries automatically.
	ErrEmergencyExitFailed = errors.New("emergency exit failed")
	ErrNotRecovered        = errors.New("startup recovery has not completed")
	ErrStaleQuote          = errors.New("quote is stale")
	// ErrOrderRejected is returned by ExecutionClient.SubmitOrder when the
	// exchange declines the order, including killed fill-or-kill orders.
	ErrOrderRejected = errors.New("order rejected")
	// ErrDualRpcFailure surfaces only after the execution collaborator has
	// exhausted failover across both redundant endpoints.
	ErrDualRpcFailure = errors.New("both rpc endpoints failed")
)

// RejectionError reports the first risk gate a proposal failed.
// It is an expected, non-fatal outcome.
type RejectionError struct {
	Gate   int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected at gate %d: %s", e.Gate, e.Reason)
}

// CircuitOpenError is returned while the breaker is tripped or cooling down.
// Proposals are rejected before any gate is evaluated.
type CircuitOpenError struct {
	Reason TripReason
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: %s", e.Reason)
}

// PersistenceError wraps a failed durable write or read. Fatal at startup;
// at runtime the engine retries a bounded number of times before escalating
// to a breaker trip.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ReconciliationMismatch reports a divergence between the ledger and the
// authoritative external source of truth. The external source wins; the
// position is forced legged. Not fatal by itself.
type ReconciliationMismatch struct {
	PositionID  string
	LedgerYes   float64
	LedgerNo    float64
	ExternalYes float64
	ExternalNo  float64
}

func (e *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("reconciliation mismatch for %s: ledger (%.4f YES, %.4f NO) vs chain (%.4f YES, %.4f NO)",
		e.PositionID, e.LedgerYes, e.LedgerNo, e.ExternalYes, e.ExternalNo)
}
