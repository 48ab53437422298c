package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/domain"
)

func pairProposal(market string, size float64) domain.TradeProposal {
	edge := 0.12
	return domain.TradeProposal{
		ID:        "prop-pair-" + market,
		MarketID:  market,
		Strategy:  "arbitrage",
		Price:     0.95, // combined yes+no
		YesPrice:  0.65,
		NoPrice:   0.30,
		Size:      size,
		Edge:      &edge,
		Liquidity: 5000,
	}
}

// rejectNoLeg fills YES buys at the limit and kills everything else.
func rejectNoLeg(order domain.Order) (domain.Fill, error) {
	if order.Side == domain.OrderSideBuy && order.Token == domain.TokenYes {
		return fillAtPrice(order)
	}
	return domain.Fill{}, fmt.Errorf("venue: %w", domain.ErrOrderRejected)
}

func TestLeggedPairTriggersEmergencyExit(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	// YES fills, NO is killed; then the forced exit sell fills.
	h.exec.submitFn = func(order domain.Order) (domain.Fill, error) {
		if order.Side == domain.OrderSideSell {
			return fillAtPrice(order)
		}
		return rejectNoLeg(order)
	}

	approval, err := h.eng.ValidateAndApprove(ctx,
		pairProposal("highest-temperature-in-nyc-on-august-29", 190))
	require.NoError(t, err)
	require.Len(t, approval.Orders, 2)
	require.NoError(t, h.eng.Execute(ctx, approval))

	// The exit order is a FOK sell of the filled YES leg.
	exit := h.exec.lastOrder(t)
	assert.Equal(t, domain.OrderSideSell, exit.Side)
	assert.Equal(t, domain.TokenYes, exit.Token)
	assert.Equal(t, domain.OrderTypeFOK, exit.Type)
	shares := 190.0 / 0.95
	assert.InDelta(t, shares, exit.Size, 1e-9)
	// Floor: the filled leg's entry price less the 5% loss bound.
	assert.InDelta(t, 0.65*0.95, exit.Price, 1e-9)

	pos, err := h.ledger.GetPosition(ctx, approval.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.PnL)
	// Bought at 0.65, dumped at the 0.6175 floor: 5% of the leg cost.
	legCost := 0.65 * shares
	assert.InDelta(t, -0.05*legCost, *pos.PnL, 1e-6)

	exits, err := h.store.Exits().ListByPosition(ctx, approval.PositionID)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitReasonLeggedPosition, exits[0].Reason)
	assert.InDelta(t, 0.05*legCost, exits[0].RealizedLoss, 1e-6)

	// A successful exit does not trip the breaker.
	assert.Equal(t, domain.BreakerArmed, h.eng.BreakerState())
}

func TestExitFloorPrice(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	// $1,000 position: 2,000 shares at $0.50. With a 5% bound the exit
	// floor is $0.475.
	pos := domain.Position{
		ID:         "pos-floor",
		MarketID:   "highest-temperature-in-denver-on-august-29",
		Strategy:   "weather_edge",
		Side:       domain.SideYes,
		YesShares:  2000,
		EntryPrice: 0.50,
		Cost:       1000,
		OpenedAt:   h.clock,
		Status:     domain.PositionStatusOpen,
	}
	require.NoError(t, h.store.Create(ctx, pos))

	require.NoError(t, h.eng.EmergencyExit(ctx, pos, domain.ExitReasonOracleDispute))

	exit := h.exec.lastOrder(t)
	assert.InDelta(t, 0.475, exit.Price, 1e-9)
	assert.InDelta(t, 2000.0, exit.Size, 1e-9)

	closed, err := h.ledger.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.PnL)
	assert.InDelta(t, -50.0, *closed.PnL, 1e-6)
	assert.InDelta(t, 1950.0, h.eng.equity.Snapshot().Equity, 1e-6)
}

func TestExitFailureTripsBreakerAndStaysLegged(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	// NO leg killed, and the exit sell fails too.
	h.exec.submitFn = func(order domain.Order) (domain.Fill, error) {
		return rejectNoLeg(order)
	}

	approval, err := h.eng.ValidateAndApprove(ctx,
		pairProposal("highest-temperature-in-nyc-on-august-29", 190))
	require.NoError(t, err)

	err = h.eng.Execute(ctx, approval)
	require.ErrorIs(t, err, domain.ErrEmergencyExitFailed)

	pos, perr := h.ledger.GetPosition(ctx, approval.PositionID)
	require.NoError(t, perr)
	assert.Equal(t, domain.PositionStatusLegged, pos.Status)

	assert.NotEqual(t, domain.BreakerArmed, h.eng.BreakerState())
	reason, ok := h.eng.breaker.Reason()
	require.True(t, ok)
	assert.Equal(t, domain.TripLeggedPositionStuck, reason)
}

func TestExitTimeoutTripsBreaker(t *testing.T) {
	h := newHarness(t)
	h.eng.cfg.ExitTimeout = 20 * time.Millisecond
	h.recover(t)
	ctx := context.Background()

	h.exec.submitFn = func(order domain.Order) (domain.Fill, error) {
		time.Sleep(100 * time.Millisecond)
		return domain.Fill{}, context.DeadlineExceeded
	}

	pos := domain.Position{
		ID:         "pos-slow",
		MarketID:   "highest-temperature-in-miami-on-august-29",
		Strategy:   "weather_edge",
		Side:       domain.SideYes,
		YesShares:  100,
		EntryPrice: 0.50,
		Cost:       50,
		OpenedAt:   h.clock,
		Status:     domain.PositionStatusLegged,
	}
	require.NoError(t, h.store.Create(ctx, pos))

	err := h.eng.EmergencyExit(ctx, pos, domain.ExitReasonLeggedPosition)
	require.ErrorIs(t, err, domain.ErrEmergencyExitFailed)
	assert.NotEqual(t, domain.BreakerArmed, h.eng.BreakerState())
}

func TestRecoverReconcilesAndExits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// An open position the chain knows nothing about: recovery must mark
	// it legged and, with nothing held to sell, close it at a full loss.
	require.NoError(t, h.store.Create(ctx, domain.Position{
		ID:         "pos-ghost",
		MarketID:   "highest-temperature-in-nyc-on-august-29",
		Strategy:   "weather_edge",
		Side:       domain.SideYes,
		YesShares:  100,
		EntryPrice: 0.50,
		Cost:       50,
		OpenedAt:   h.clock,
		Status:     domain.PositionStatusOpen,
	}))

	// A position the chain agrees with: recovery leaves it alone.
	require.NoError(t, h.store.Create(ctx, domain.Position{
		ID:         "pos-intact",
		MarketID:   "highest-temperature-in-chicago-on-august-29",
		Strategy:   "weather_edge",
		Side:       domain.SideYes,
		YesShares:  200,
		EntryPrice: 0.40,
		Cost:       80,
		OpenedAt:   h.clock,
		Status:     domain.PositionStatusOpen,
	}))
	h.exec.balances["highest-temperature-in-chicago-on-august-29"] = [2]float64{200, 0}

	h.recover(t)

	ghost, err := h.ledger.GetPosition(ctx, "pos-ghost")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, ghost.Status)
	require.NotNil(t, ghost.PnL)
	assert.InDelta(t, -50.0, *ghost.PnL, 1e-6)

	// The evaporated cost basis is persisted and alerted like any other
	// emergency exit, even though there was nothing to sell.
	exits, err := h.store.Exits().ListByPosition(ctx, "pos-ghost")
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.InDelta(t, 50.0, exits[0].RealizedLoss, 1e-6)

	h.alerts.mu.Lock()
	sends := append([]string(nil), h.alerts.sends...)
	h.alerts.mu.Unlock()
	assert.Contains(t, sends, "warning: Emergency exit completed")

	intact, err := h.ledger.GetPosition(ctx, "pos-intact")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, intact.Status)
}

func TestRecoverReplaysEquityAndCounters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pnl := -100.0
	closedAt := h.clock.Add(-time.Hour)
	require.NoError(t, h.store.Create(ctx, domain.Position{
		ID:             "pos-closed",
		MarketID:       "highest-temperature-in-nyc-on-august-29",
		Strategy:       "weather_edge",
		Side:           domain.SideYes,
		CorrelationKey: "nyc",
		YesShares:      400,
		EntryPrice:     0.50,
		Cost:           200,
		OpenedAt:       h.clock.Add(-2 * time.Hour),
		ClosedAt:       &closedAt,
		PnL:            &pnl,
		Status:         domain.PositionStatusClosed,
	}))

	h.recover(t)

	assert.InDelta(t, 1900.0, h.eng.equity.Snapshot().Equity, 1e-6)
	snap := h.eng.counters.Snapshot()
	assert.Equal(t, 1, snap.Trades)
	assert.InDelta(t, -100.0, snap.RealizedPnL, 1e-6)
	assert.Equal(t, 1, snap.ByKey["nyc"])

	// Today's loss already breaches the daily limit; the first proposal
	// is rejected at the daily-loss gate.
	_, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-chicago-on-august-29", 150))
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
}

func TestRecoverFailsWhenChainUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.Create(ctx, domain.Position{
		ID:         "pos-unknown",
		MarketID:   "highest-temperature-in-nyc-on-august-29",
		Strategy:   "weather_edge",
		Side:       domain.SideYes,
		YesShares:  100,
		EntryPrice: 0.50,
		Cost:       50,
		OpenedAt:   h.clock,
		Status:     domain.PositionStatusOpen,
	}))
	h.exec.balErr = errors.New("rpc: connection refused")

	err := h.eng.Recover(ctx)
	require.Error(t, err)

	// Still not recovered, so proposals stay locked out.
	_, err = h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-chicago-on-august-29", 150))
	require.ErrorIs(t, err, domain.ErrNotRecovered)
}
