package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"weatheredge/internal/domain"
)

// EmergencyExit force-closes a legged or disputed position: a single
// fill-or-kill sell of whatever actually filled, at a floor price bounding
// the acceptable loss, under a hard deadline. One attempt only. If the exit
// cannot complete the breaker trips and the position stays legged for an
// operator.
func (e *Engine) EmergencyExit(ctx context.Context, pos domain.Position, reason domain.ExitReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyExitLocked(ctx, pos, reason)
}

func (e *Engine) emergencyExitLocked(ctx context.Context, pos domain.Position, reason domain.ExitReason) error {
	shares := pos.FilledShares()
	if shares <= 0 {
		// Nothing on the book to sell, so the whole cost basis is gone.
		// Still an emergency exit: the loss is persisted and alerted like
		// any other, it just needs no order.
		if err := e.persist(ctx, "log emergency exit", func() error {
			return e.ledger.LogEmergencyExit(ctx, domain.EmergencyExit{
				PositionID:   pos.ID,
				Reason:       reason,
				RealizedLoss: pos.Cost,
			})
		}); err != nil {
			return err
		}
		if err := e.persist(ctx, "close exited position", func() error {
			return e.ledger.Close(ctx, pos.ID, 0, -pos.Cost)
		}); err != nil {
			return err
		}
		e.equity.ApplyRealizedPnL(-pos.Cost)
		e.counters.RecordRealizedPnL(-pos.Cost)

		e.alerts.Send(ctx, domain.SeverityWarning, "Emergency exit completed",
			fmt.Sprintf("position %s (%s) had no holdings on chain, realized loss $%.2f",
				pos.ID, reason, pos.Cost))
		e.logger.WarnContext(ctx, "emergency exit closed empty position",
			slog.String("position_id", pos.ID),
			slog.String("reason", string(reason)),
			slog.Float64("realized_loss", pos.Cost),
		)
		return nil
	}

	entry := pos.Cost / shares
	floor := entry * (1 - e.cfg.ExitMaxLossFraction)

	token := domain.TokenYes
	if pos.NoShares > pos.YesShares {
		token = domain.TokenNo
	}
	order := domain.Order{
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Side:       domain.OrderSideSell,
		Token:      token,
		Price:      floor,
		Size:       shares,
		Type:       domain.OrderTypeFOK,
	}

	e.logger.WarnContext(ctx, "emergency exit initiated",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
		slog.Float64("shares", shares),
		slog.Float64("floor_price", floor),
	)

	// Hard deadline: a hanging exit is as bad as a failed one.
	exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ExitTimeout)
	defer cancel()

	fill, err := e.exec.SubmitOrder(exitCtx, order)
	if err != nil {
		e.trip(ctx, domain.TripLeggedPositionStuck,
			fmt.Sprintf("emergency exit of %s failed: %v", pos.ID, err))
		e.logger.ErrorContext(ctx, "emergency exit failed, breaker tripped",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: position %s: exit timed out after %s",
				domain.ErrEmergencyExitFailed, pos.ID, e.cfg.ExitTimeout)
		}
		return fmt.Errorf("%w: position %s: %v", domain.ErrEmergencyExitFailed, pos.ID, err)
	}

	loss := pos.Cost - fill.Cost
	if err := e.persist(ctx, "log emergency exit", func() error {
		return e.ledger.LogEmergencyExit(ctx, domain.EmergencyExit{
			PositionID:   pos.ID,
			Reason:       reason,
			RealizedLoss: loss,
		})
	}); err != nil {
		return err
	}
	if err := e.persist(ctx, "close exited position", func() error {
		return e.ledger.Close(ctx, pos.ID, fill.Price, -loss)
	}); err != nil {
		return err
	}
	e.equity.ApplyRealizedPnL(-loss)
	e.counters.RecordRealizedPnL(-loss)

	e.alerts.Send(ctx, domain.SeverityWarning, "Emergency exit completed",
		fmt.Sprintf("position %s (%s) exited at %.4f, realized loss $%.2f",
			pos.ID, reason, fill.Price, loss))
	e.logger.WarnContext(ctx, "emergency exit completed",
		slog.String("position_id", pos.ID),
		slog.Float64("exit_price", fill.Price),
		slog.Float64("realized_loss", loss),
	)
	return nil
}
