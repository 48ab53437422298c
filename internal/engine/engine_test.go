package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/breaker"
	"weatheredge/internal/domain"
	"weatheredge/internal/equity"
	"weatheredge/internal/ledger"
	"weatheredge/internal/risk"
	"weatheredge/internal/store/memory"
)

type fakeExec struct {
	mu        sync.Mutex
	submitFn  func(order domain.Order) (domain.Fill, error)
	submitted []domain.Order
	cancelled []string
	balances  map[string][2]float64
	balErr    error
}

func newFakeExec() *fakeExec {
	return &fakeExec{balances: make(map[string][2]float64)}
}

// fillAtPrice fills every submission at the limit price.
func fillAtPrice(order domain.Order) (domain.Fill, error) {
	return domain.Fill{
		OrderID:   order.ID,
		MarketID:  order.MarketID,
		Size:      order.Size,
		Price:     order.Price,
		Cost:      order.Price * order.Size,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (f *fakeExec) SubmitOrder(ctx context.Context, order domain.Order) (domain.Fill, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, order)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		fn = fillAtPrice
	}
	return fn(order)
}

func (f *fakeExec) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeExec) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, *domain.Fill, error) {
	return domain.OrderStatusRejected, nil, nil
}

func (f *fakeExec) OnChainBalance(ctx context.Context, marketID string) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return 0, 0, f.balErr
	}
	b := f.balances[marketID]
	return b[0], b[1], nil
}

func (f *fakeExec) lastOrder(t *testing.T) domain.Order {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.submitted)
	return f.submitted[len(f.submitted)-1]
}

type fakeGas struct {
	gwei float64
	err  error
}

func (g *fakeGas) GasPriceGwei(ctx context.Context) (float64, error) {
	return g.gwei, g.err
}

type fakeAlerter struct {
	mu    sync.Mutex
	sends []string
}

func (a *fakeAlerter) Send(ctx context.Context, severity domain.Severity, title, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, fmt.Sprintf("%s: %s", severity, title))
}

type harness struct {
	store  *memory.Store
	ledger *ledger.Ledger
	exec   *fakeExec
	gas    *fakeGas
	alerts *fakeAlerter
	eng    *Engine
	clock  time.Time
}

func riskConfig() risk.Config {
	return risk.Config{
		MaxPositionSizeUSD:       500,
		MaxPositionPct:           0.10,
		MaxOpenPositions:         5,
		MaxDailyTrades:           5,
		MaxDailyLossUSD:          100,
		MaxDrawdownPct:           0.15,
		MaxPerKeyPerDay:          1,
		MinLiquidityUSD:          1000,
		MaxGasGwei:               200,
		MaxSuspiciousEdge:        0.30,
		ExternalValidationBypass: map[string]bool{"arbitrage": true},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := memory.New()
	alerts := &fakeAlerter{}
	led := ledger.New(st, st.Orders(), st.Exits(), st.Events(), logger)
	brk := breaker.New(st.Events(), alerts, time.Hour, logger)
	pipe := risk.New(riskConfig(), nil,
		func(ctx context.Context, p domain.TradeProposal) (bool, string, error) { return true, "", nil },
		logger)
	exec := newFakeExec()
	gas := &fakeGas{gwei: 40}
	mon := NewMonitor(MonitorConfig{
		FillRateFloor:       0.50,
		FillRateWindow:      20,
		MaxAvgLatency:       time.Second,
		LatencyWindow:       20,
		MaxApiErrorsPerHour: 100,
	})

	eng := New(led, brk, pipe, equity.New(2000), mon, exec, gas, st.Audits(), alerts,
		Config{
			ExitMaxLossFraction:  0.05,
			ExitTimeout:          time.Second,
			RecoveryQueryTimeout: time.Second,
			PersistenceRetries:   1,
		}, logger)

	h := &harness{store: st, ledger: led, exec: exec, gas: gas, alerts: alerts, eng: eng,
		clock: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	eng.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) recover(t *testing.T) {
	t.Helper()
	require.NoError(t, h.eng.Recover(context.Background()))
}

func yesProposal(market string, size float64) domain.TradeProposal {
	edge := 0.12
	return domain.TradeProposal{
		ID:        "prop-" + market,
		MarketID:  market,
		Strategy:  "weather_edge",
		Side:      domain.SideYes,
		Price:     0.65,
		Size:      size,
		Edge:      &edge,
		Liquidity: 5000,
	}
}

func TestRejectsUntilRecovered(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.ValidateAndApprove(context.Background(),
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.ErrorIs(t, err, domain.ErrNotRecovered)

	h.recover(t)
	_, err = h.eng.ValidateAndApprove(context.Background(),
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.NoError(t, err)
}

func TestApproveOpensPositionAndOrder(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	approval, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.NoError(t, err)
	require.Len(t, approval.Orders, 1)

	pos, err := h.ledger.GetPosition(ctx, approval.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "nyc", pos.CorrelationKey)
	assert.InDelta(t, 200.0, pos.Cost, 1e-9)
	assert.InDelta(t, 200.0/0.65, pos.YesShares, 1e-9)

	orders, err := h.ledger.OrdersFor(ctx, approval.PositionID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusPending, orders[0].Status)
	assert.Equal(t, domain.TokenYes, orders[0].Token)
}

func TestCircuitOpenShortCircuitsGates(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	h.eng.trip(ctx, domain.TripApiErrorBurst, "test")

	// Even a proposal that would fail gate 1 reports the open circuit,
	// not a gate number.
	_, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 10_000))
	var open *domain.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, domain.TripApiErrorBurst, open.Reason)
}

func TestCircuitOpenWinsOverGasOracleFailure(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	h.eng.trip(ctx, domain.TripApiErrorBurst, "test")
	h.gas.err = errors.New("rpc: transient read failure")

	// The breaker answers before the gas read, so an oracle failure while
	// tripped cannot surface as a gate rejection.
	_, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	var open *domain.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, domain.TripApiErrorBurst, open.Reason)
	var rej *domain.RejectionError
	assert.False(t, errors.As(err, &rej))
}

func TestDailyLossRejectionTripsBreaker(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	approval, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.NoError(t, err)
	require.NoError(t, h.eng.Execute(ctx, approval))

	// Realize a loss past the daily limit: 307.7 shares sold at $0.20.
	require.NoError(t, h.eng.ClosePosition(ctx, approval.PositionID, 0.20))

	_, err = h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-chicago-on-august-29", 200))
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, risk.GateDailyLoss, rej.Gate)
	assert.Equal(t, domain.BreakerTripped, h.eng.BreakerState())

	reason, ok := h.eng.breaker.Reason()
	require.True(t, ok)
	assert.Equal(t, domain.TripDailyLossExceeded, reason)
}

func TestTripSweepCancelsThroughSerializedPath(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	approval, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.NoError(t, err)

	h.eng.trip(ctx, domain.TripApiErrorBurst, "test")

	// The sweep books the cancel through OnOrderRejected, so the order is
	// marked under the engine mutex and leg evaluation runs: with every
	// leg rejected the position closes flat.
	require.Eventually(t, func() bool {
		pos, perr := h.ledger.GetPosition(ctx, approval.PositionID)
		return perr == nil && pos.Status == domain.PositionStatusClosed
	}, 2*time.Second, 10*time.Millisecond)

	orders, err := h.ledger.OrdersFor(ctx, approval.PositionID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusRejected, orders[0].Status)

	pos, err := h.ledger.GetPosition(ctx, approval.PositionID)
	require.NoError(t, err)
	require.NotNil(t, pos.PnL)
	assert.InDelta(t, 0.0, *pos.PnL, 1e-9)
}

func TestDualRpcFailureTripsBreaker(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	h.gas.err = fmt.Errorf("chain: %w", domain.ErrDualRpcFailure)

	_, err := h.eng.ValidateAndApprove(context.Background(),
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	var open *domain.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, domain.TripDualRpcFailure, open.Reason)
	assert.Equal(t, domain.BreakerTripped, h.eng.BreakerState())
}

func TestCorrelationLimitResetsAtMidnight(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	_, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 150))
	require.NoError(t, err)

	// Second nyc trade the same day hits the per-key limit.
	prop := yesProposal("lowest-temperature-in-nyc-on-august-29", 150)
	_, err = h.eng.ValidateAndApprove(ctx, prop)
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, risk.GateCorrelation, rej.Gate)

	// Past UTC midnight the counters reset and the same proposal passes.
	h.clock = h.clock.Add(25 * time.Hour)
	_, err = h.eng.ValidateAndApprove(ctx, prop)
	require.NoError(t, err)
}

func TestExecuteRecordsFill(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	approval, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.NoError(t, err)
	require.NoError(t, h.eng.Execute(ctx, approval))

	orders, err := h.ledger.OrdersFor(ctx, approval.PositionID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusFilled, orders[0].Status)
}

func TestCloseRealizesPnL(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	approval, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.NoError(t, err)
	require.NoError(t, h.eng.Execute(ctx, approval))

	// 307.69 shares at $0.70 exit: proceeds $215.38, pnl +$15.38.
	require.NoError(t, h.eng.ClosePosition(ctx, approval.PositionID, 0.70))

	pos, err := h.ledger.GetPosition(ctx, approval.PositionID)
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.PnL)
	assert.InDelta(t, (200/0.65)*0.70-200, *pos.PnL, 1e-6)
	assert.InDelta(t, 2000+*pos.PnL, h.eng.equity.Snapshot().Equity, 1e-6)
}

func TestAllLegsRejectedClosesFlat(t *testing.T) {
	h := newHarness(t)
	h.recover(t)
	ctx := context.Background()

	h.exec.submitFn = func(order domain.Order) (domain.Fill, error) {
		return domain.Fill{}, fmt.Errorf("venue: %w", domain.ErrOrderRejected)
	}

	approval, err := h.eng.ValidateAndApprove(ctx,
		yesProposal("highest-temperature-in-nyc-on-august-29", 200))
	require.NoError(t, err)
	require.NoError(t, h.eng.Execute(ctx, approval))

	pos, err := h.ledger.GetPosition(ctx, approval.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.PnL)
	assert.Zero(t, *pos.PnL)
	assert.InDelta(t, 2000.0, h.eng.equity.Snapshot().Equity, 1e-9)
}

func TestPersistenceExhaustionTripsBreaker(t *testing.T) {
	h := newHarness(t)
	h.recover(t)

	calls := 0
	err := h.eng.persist(context.Background(), "test write", func() error {
		calls++
		return errors.New("disk gone")
	})

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, calls) // initial attempt plus one retry
	assert.NotEqual(t, domain.BreakerArmed, h.eng.BreakerState())
}
