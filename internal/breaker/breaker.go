// Package breaker implements the global trading kill-switch: a state machine
// over Armed, Tripped and Cooldown backed by a persistent event log. Any
// anomaly trips it immediately; the only way back to Armed is an explicit
// operator reset after the cooldown has elapsed. The asymmetry is deliberate:
// fail fast, recover slow.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"weatheredge/internal/domain"
)

// Breaker is the circuit breaker. Its in-memory flag is a cache of the latest
// unresolved BreakerEvent; Rehydrate restores it from the event log.
type Breaker struct {
	events   domain.BreakerEventStore
	alerts   domain.Alerter
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	tripped   bool
	reason    domain.TripReason
	trippedAt time.Time
	eventID   int64
}

// New creates an armed Breaker with the given cooldown duration.
func New(events domain.BreakerEventStore, alerts domain.Alerter, cooldown time.Duration, logger *slog.Logger) *Breaker {
	return &Breaker{
		events:   events,
		alerts:   alerts,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "circuit_breaker")),
		now:      time.Now,
	}
}

// Rehydrate loads the latest unresolved trip from the event log, so a crash
// while tripped comes back tripped.
func (b *Breaker) Rehydrate(ctx context.Context) error {
	ev, err := b.events.LatestOpen(ctx)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil
		}
		return fmt.Errorf("breaker: rehydrate: %w", err)
	}

	b.mu.Lock()
	b.tripped = true
	b.reason = ev.Reason
	b.trippedAt = ev.TriggeredAt
	b.eventID = ev.ID
	b.mu.Unlock()

	b.logger.WarnContext(ctx, "breaker rehydrated tripped",
		slog.String("reason", string(ev.Reason)),
		slog.Time("triggered_at", ev.TriggeredAt),
	)
	return nil
}

// State reports Armed, Tripped (cooldown running) or Cooldown (reset-eligible).
// Both non-armed states forbid trading.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() domain.BreakerState {
	if !b.tripped {
		return domain.BreakerArmed
	}
	if b.now().Sub(b.trippedAt) < b.cooldown {
		return domain.BreakerTripped
	}
	return domain.BreakerCooldown
}

// Reason returns the latest trip reason and whether the breaker is tripped.
func (b *Breaker) Reason() (domain.TripReason, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason, b.tripped
}

// Trip halts all trading: it appends a BreakerEvent, records the latest
// reason, and alerts the operator. A trip while already tripped appends a
// new event and restarts the cooldown from the newest trip. The in-memory
// halt is applied even when the event log write fails; losing the audit row
// is recoverable, trading through an anomaly is not.
func (b *Breaker) Trip(ctx context.Context, reason domain.TripReason, notes string) error {
	now := b.now()

	b.mu.Lock()
	b.tripped = true
	b.reason = reason
	b.trippedAt = now
	b.mu.Unlock()

	b.logger.ErrorContext(ctx, "circuit breaker tripped",
		slog.String("reason", string(reason)),
		slog.String("notes", notes),
	)
	b.alert(ctx, reason, notes)

	id, err := b.events.Append(ctx, domain.BreakerEvent{
		Reason:      reason,
		TriggeredAt: now,
		Notes:       notes,
	})
	if err != nil {
		return &domain.PersistenceError{Op: "append breaker event", Err: err}
	}

	b.mu.Lock()
	b.eventID = id
	b.mu.Unlock()
	return nil
}

// Reset is the explicit operator action that re-arms the breaker. It fails
// with ErrCooldownNotElapsed until the configured cooldown has passed since
// the latest trip, and sets reset_at on the open event.
func (b *Breaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	if !b.tripped {
		b.mu.Unlock()
		return domain.ErrBreakerNotTripped
	}
	if b.stateLocked() == domain.BreakerTripped {
		remaining := b.cooldown - b.now().Sub(b.trippedAt)
		b.mu.Unlock()
		return fmt.Errorf("breaker: %w (%s remaining)", domain.ErrCooldownNotElapsed, remaining.Round(time.Second))
	}
	eventID := b.eventID
	reason := b.reason
	b.tripped = false
	b.reason = ""
	b.mu.Unlock()

	if err := b.events.MarkReset(ctx, eventID, b.now()); err != nil {
		return &domain.PersistenceError{Op: "mark breaker event reset", Err: err}
	}

	b.logger.InfoContext(ctx, "circuit breaker reset",
		slog.String("previous_reason", string(reason)),
	)
	b.alert(ctx, "", "breaker manually reset, trading re-armed")
	return nil
}

// alert delivers the trip/reset notification. LeggedPositionStuck implies
// live unhedged capital and gets a distinct critical alert.
func (b *Breaker) alert(ctx context.Context, reason domain.TripReason, notes string) {
	if b.alerts == nil {
		return
	}
	switch reason {
	case domain.TripLeggedPositionStuck:
		b.alerts.Send(ctx, domain.SeverityCritical,
			"LEGGED POSITION STUCK: MANUAL INTERVENTION REQUIRED",
			"emergency exit failed; unhedged capital at risk. "+notes)
	case "":
		b.alerts.Send(ctx, domain.SeverityInfo, "Circuit breaker reset", notes)
	default:
		b.alerts.Send(ctx, domain.SeverityWarning,
			fmt.Sprintf("Circuit breaker tripped: %s", reason), notes)
	}
}
