package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"weatheredge/internal/domain"
)

// Recover reconciles the ledger with reality after a restart. It must run to
// completion before any new proposal is evaluated.
//
// For every open or legged position the authoritative on-chain balance is
// queried; on disagreement the external source wins: the ledger's share
// counts are overwritten, the position is forced legged, and it is returned
// for immediate emergency-exit evaluation. Pending orders are resolved
// against the exchange's order status. Any failure here is fatal to startup:
// trading on an unverified ledger is exactly the divergence this exists to
// prevent.
func (l *Ledger) Recover(ctx context.Context, exec domain.ExecutionClient, queryTimeout time.Duration) ([]domain.Position, error) {
	open, err := l.positions.ListByStatus(ctx, domain.PositionStatusOpen, domain.PositionStatusLegged)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list unresolved positions", Err: err}
	}
	l.logger.InfoContext(ctx, "crash recovery started",
		slog.Int("unresolved_positions", len(open)),
	)

	var needExit []domain.Position
	for _, pos := range open {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		yes, no, err := exec.OnChainBalance(qctx, pos.MarketID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ledger: reconcile %s: query on-chain balance: %w", pos.ID, err)
		}

		mismatch := math.Abs(yes-pos.YesShares) > shareEpsilon || math.Abs(no-pos.NoShares) > shareEpsilon
		if mismatch {
			rm := &domain.ReconciliationMismatch{
				PositionID:  pos.ID,
				LedgerYes:   pos.YesShares,
				LedgerNo:    pos.NoShares,
				ExternalYes: yes,
				ExternalNo:  no,
			}
			l.logger.WarnContext(ctx, "reconciliation mismatch, external source wins",
				slog.String("position_id", pos.ID),
				slog.String("detail", rm.Error()),
			)
			if err := l.positions.UpdateShares(ctx, pos.ID, yes, no); err != nil {
				return nil, &domain.PersistenceError{Op: "update reconciled shares", Err: err}
			}
			if pos.Status != domain.PositionStatusLegged {
				if err := l.MarkLegged(ctx, pos.ID); err != nil {
					return nil, err
				}
			}
			pos.YesShares, pos.NoShares = yes, no
			pos.Status = domain.PositionStatusLegged
			needExit = append(needExit, pos)
			continue
		}

		if pos.Status == domain.PositionStatusLegged {
			// Already legged before the restart; still owed an exit.
			needExit = append(needExit, pos)
		}
	}

	if err := l.resolvePendingOrders(ctx, exec, queryTimeout); err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "crash recovery complete",
		slog.Int("legged_positions_queued", len(needExit)),
	)
	return needExit, nil
}

func (l *Ledger) resolvePendingOrders(ctx context.Context, exec domain.ExecutionClient, queryTimeout time.Duration) error {
	pending, err := l.orders.ListPending(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "list pending orders", Err: err}
	}

	for _, o := range pending {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		status, fill, err := exec.OrderStatus(qctx, o.ID)
		cancel()
		if err != nil {
			return fmt.Errorf("ledger: resolve pending order %s: %w", o.ID, err)
		}

		switch status {
		case domain.OrderStatusFilled:
			at := l.now().UTC()
			if fill != nil {
				at = fill.Timestamp
			}
			if err := l.MarkOrderFilled(ctx, o.ID, at); err != nil {
				return err
			}
		case domain.OrderStatusRejected:
			if err := l.MarkOrderRejected(ctx, o.ID); err != nil {
				return err
			}
		default:
			// Still pending at the exchange; leave it.
		}
	}
	return nil
}
