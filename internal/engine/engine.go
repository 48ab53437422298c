// Package engine is the risk-and-resilience control loop. It owns the
// serialization boundary around ledger mutations, the daily counters and the
// equity tracker, gates every proposal through the circuit breaker and the
// ten-step risk pipeline, and runs the legged-position emergency-exit
// protocol.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"weatheredge/internal/breaker"
	"weatheredge/internal/domain"
	"weatheredge/internal/equity"
	"weatheredge/internal/ledger"
	"weatheredge/internal/risk"
)

// Config holds the engine's operational parameters.
type Config struct {
	// ExitMaxLossFraction bounds the acceptable loss of a forced exit
	// (floor price = fill price * (1 - fraction)).
	ExitMaxLossFraction float64
	// ExitTimeout is the hard deadline on an emergency-exit submission.
	// Every extra second of unhedged exposure is pure risk.
	ExitTimeout          time.Duration
	RecoveryQueryTimeout time.Duration
	// PersistenceRetries bounds runtime retries of a failed durable write
	// before the breaker is tripped.
	PersistenceRetries int
}

// Approval is the engine's positive answer to a proposal: the opened
// position and the pending order(s) the caller should submit.
type Approval struct {
	PositionID string
	Orders     []domain.Order
}

// Engine wires the ledger, breaker, pipeline, equity tracker and counters
// into one serialized surface: ValidateAndApprove, OnFill, Recover, BreakerState.
type Engine struct {
	ledger   *ledger.Ledger
	breaker  *breaker.Breaker
	pipeline *risk.Pipeline
	equity   *equity.Tracker
	monitor  *Monitor
	exec     domain.ExecutionClient
	gas      domain.GasOracle
	audits   domain.AuditStore
	alerts   domain.Alerter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes ledger mutations, counter updates and equity updates
	// against concurrent proposal evaluations. Two proposals racing the
	// open-position or correlation gates must never both pass on a stale
	// pre-mutation count.
	mu        sync.Mutex
	counters  *DailyCounters
	recovered atomic.Bool
}

// New creates an Engine. Recover must complete before the first proposal.
func New(
	led *ledger.Ledger,
	brk *breaker.Breaker,
	pipeline *risk.Pipeline,
	eq *equity.Tracker,
	monitor *Monitor,
	exec domain.ExecutionClient,
	gas domain.GasOracle,
	audits domain.AuditStore,
	alerts domain.Alerter,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		ledger:   led,
		breaker:  brk,
		pipeline: pipeline,
		equity:   eq,
		monitor:  monitor,
		exec:     exec,
		gas:      gas,
		audits:   audits,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
	}
	e.counters = NewDailyCounters(func() time.Time { return e.now() })
	return e
}

// BreakerState reports the circuit breaker's current state.
func (e *Engine) BreakerState() domain.BreakerState {
	return e.breaker.State()
}

// ResetBreaker is the explicit operator action that re-arms the breaker.
func (e *Engine) ResetBreaker(ctx context.Context) error {
	return e.breaker.Reset(ctx)
}

// Recover runs the startup procedure: rehydrate the breaker, reconcile
// the ledger against the chain, rebuild equity and counters from closed
// positions, and force-exit anything found legged, all before the engine
// accepts a single proposal. Persistence or reconciliation failure here is
// fatal; a failed emergency exit trips the breaker but lets the engine start
// (halted), since the trip itself is the protection.
func (e *Engine) Recover(ctx context.Context) error {
	if err := e.breaker.Rehydrate(ctx); err != nil {
		return fmt.Errorf("engine: recover: %w", err)
	}

	needExit, err := e.ledger.Recover(ctx, e.exec, e.cfg.RecoveryQueryTimeout)
	if err != nil {
		return fmt.Errorf("engine: recover: %w", err)
	}

	closed, err := e.ledger.ClosedPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine: recover: replay closed positions: %w", err)
	}
	for _, p := range closed {
		if p.PnL != nil {
			e.equity.ApplyRealizedPnL(*p.PnL)
		}
	}

	e.mu.Lock()
	day := e.counters.DayStart()
	trades, err := e.ledger.CountOpenedSince(ctx, day)
	if err == nil {
		var pnl float64
		var byKey map[string]int
		if pnl, err = e.ledger.SumPnLClosedSince(ctx, day); err == nil {
			if byKey, err = e.ledger.CountByCorrelationKeySince(ctx, day); err == nil {
				e.counters.Rebuild(trades, pnl, byKey)
			}
		}
	}
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("engine: recover: rebuild counters: %w", err)
	}

	for _, pos := range needExit {
		if exitErr := e.EmergencyExit(ctx, pos, domain.ExitReasonReconciliation); exitErr != nil {
			e.logger.ErrorContext(ctx, "recovery emergency exit failed, breaker tripped",
				slog.String("position_id", pos.ID),
				slog.String("error", exitErr.Error()),
			)
		}
	}

	e.recovered.Store(true)
	e.logger.InfoContext(ctx, "startup recovery complete",
		slog.String("breaker", string(e.breaker.State())),
		slog.Float64("equity", e.equity.Snapshot().Equity),
	)
	return nil
}

// ValidateAndApprove runs a proposal through the breaker gate and the ten
// risk gates. On approval it opens the position, records its pending
// order(s), bumps the daily counters and writes an audit row with the exact
// snapshot values the decision used, all atomically under the engine mutex.
func (e *Engine) ValidateAndApprove(ctx context.Context, prop domain.TradeProposal) (*Approval, error) {
	if !e.recovered.Load() {
		return nil, domain.ErrNotRecovered
	}

	// A tripped breaker answers CircuitOpen before any external read, so
	// an oracle failure cannot masquerade as a gate rejection. The check
	// repeats inside the mutex for linearizability with trips.
	if st := e.breaker.State(); st != domain.BreakerArmed {
		reason, _ := e.breaker.Reason()
		return nil, &domain.CircuitOpenError{Reason: reason}
	}

	// Gas is an external read, done outside the mutex.
	gasGwei, err := e.gas.GasPriceGwei(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrDualRpcFailure) {
			e.trip(ctx, domain.TripDualRpcFailure, err.Error())
			reason, _ := e.breaker.Reason()
			return nil, &domain.CircuitOpenError{Reason: reason}
		}
		e.noteApiError(ctx)
		return nil, &domain.RejectionError{Gate: risk.GateGasPrice, Reason: fmt.Sprintf("gas price unavailable: %v", err)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Breaker first: while tripped or cooling down the pipeline is not
	// even invoked. The check sits inside the same critical section as the
	// ledger mutation, so a trip is linearizable with approvals.
	if st := e.breaker.State(); st != domain.BreakerArmed {
		reason, _ := e.breaker.Reason()
		return nil, &domain.CircuitOpenError{Reason: reason}
	}

	openCount, err := e.ledger.CountOpen(ctx)
	if err != nil {
		return nil, err
	}
	openCost, err := e.ledger.SumOpenCost(ctx)
	if err != nil {
		return nil, err
	}

	eq := e.equity.Snapshot()
	in := risk.Inputs{
		Proposal:         prop,
		AvailableBalance: eq.Equity - openCost,
		OpenPositions:    openCount,
		Equity:           eq,
		Counters:         e.counters.Snapshot(),
		GasPriceGwei:     gasGwei,
	}

	if err := e.pipeline.Validate(ctx, in); err != nil {
		var rej *domain.RejectionError
		if errors.As(err, &rej) {
			// Loss and drawdown limits are not just per-proposal: hitting
			// either halts the session.
			switch rej.Gate {
			case risk.GateDailyLoss:
				e.trip(ctx, domain.TripDailyLossExceeded, rej.Reason)
			case risk.GateDrawdown:
				e.trip(ctx, domain.TripDrawdownExceeded, rej.Reason)
			}
			e.logger.InfoContext(ctx, "proposal rejected",
				slog.String("proposal_id", prop.ID),
				slog.String("market_id", prop.MarketID),
				slog.Int("gate", rej.Gate),
				slog.String("reason", rej.Reason),
			)
		}
		return nil, err
	}

	return e.approveLocked(ctx, prop, in)
}

// approveLocked converts an approved proposal into a ledger position with
// pending orders. Called with e.mu held.
func (e *Engine) approveLocked(ctx context.Context, prop domain.TradeProposal, in risk.Inputs) (*Approval, error) {
	key := e.pipeline.KeyFor(prop)
	shares := prop.Shares()

	pos := domain.Position{
		MarketID:       prop.MarketID,
		Strategy:       prop.Strategy,
		Side:           prop.Side,
		CorrelationKey: key,
		EntryPrice:     prop.Price,
		Cost:           prop.Size,
		Status:         domain.PositionStatusOpen,
	}
	var orders []domain.Order
	switch prop.Side {
	case domain.SideYes:
		pos.YesShares = shares
		orders = append(orders, domain.Order{
			MarketID: prop.MarketID, Side: domain.OrderSideBuy,
			Token: domain.TokenYes, Price: prop.Price, Size: shares, Type: domain.OrderTypeGTC,
		})
	case domain.SideNo:
		pos.NoShares = shares
		orders = append(orders, domain.Order{
			MarketID: prop.MarketID, Side: domain.OrderSideBuy,
			Token: domain.TokenNo, Price: prop.Price, Size: shares, Type: domain.OrderTypeGTC,
		})
	default:
		// Two-leg pair: both tokens, fill-or-kill, entry is the blended
		// per-share price so the cost invariant holds.
		yesPrice, noPrice := prop.YesPrice, prop.NoPrice
		if yesPrice == 0 && noPrice == 0 {
			yesPrice, noPrice = prop.Price/2, prop.Price/2
		}
		pos.YesShares, pos.NoShares = shares, shares
		pos.EntryPrice = prop.Size / (2 * shares)
		orders = append(orders,
			domain.Order{MarketID: prop.MarketID, Side: domain.OrderSideBuy,
				Token: domain.TokenYes, Price: yesPrice, Size: shares, Type: domain.OrderTypeFOK},
			domain.Order{MarketID: prop.MarketID, Side: domain.OrderSideBuy,
				Token: domain.TokenNo, Price: noPrice, Size: shares, Type: domain.OrderTypeFOK},
		)
	}

	posID, err := e.ledger.Open(ctx, pos)
	if err != nil {
		return nil, e.escalatePersistence(ctx, "open position", err)
	}

	approval := &Approval{PositionID: posID}
	for _, o := range orders {
		o.PositionID = posID
		id, err := e.ledger.RecordOrder(ctx, o)
		if err != nil {
			return nil, e.escalatePersistence(ctx, "record order", err)
		}
		o.ID = id
		o.Status = domain.OrderStatusPending
		approval.Orders = append(approval.Orders, o)
	}

	e.counters.RecordTrade(key)

	if err := e.audits.Log(ctx, "trade_approved", map[string]any{
		"proposal_id":       prop.ID,
		"position_id":       posID,
		"market_id":         prop.MarketID,
		"strategy":          prop.Strategy,
		"side":              string(prop.Side),
		"price":             prop.Price,
		"size_usd":          prop.Size,
		"available_balance": in.AvailableBalance,
		"open_positions":    in.OpenPositions,
		"equity":            in.Equity.Equity,
		"peak":              in.Equity.Peak,
		"drawdown":          in.Equity.Drawdown,
		"daily_trades":      in.Counters.Trades,
		"daily_pnl":         in.Counters.RealizedPnL,
		"gas_gwei":          in.GasPriceGwei,
		"correlation_key":   key,
	}); err != nil {
		// The audit row is for forensics, not correctness; losing one is
		// logged but must not unwind an already-durable approval.
		e.logger.WarnContext(ctx, "approval audit write failed",
			slog.String("position_id", posID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "proposal approved",
		slog.String("proposal_id", prop.ID),
		slog.String("position_id", posID),
		slog.Float64("size_usd", prop.Size),
	)
	return approval, nil
}

// Execute submits an approval's pending orders through the execution
// collaborator, feeding latency and fill-rate health back into the anomaly
// monitor and routing each outcome through OnFill / OnOrderRejected.
func (e *Engine) Execute(ctx context.Context, approval *Approval) error {
	var firstErr error
	for _, o := range approval.Orders {
		start := e.now()
		fill, err := e.exec.SubmitOrder(ctx, o)
		e.noteLatency(ctx, e.now().Sub(start))

		if err != nil {
			if !errors.Is(err, domain.ErrOrderRejected) {
				e.noteApiError(ctx)
			}
			if rejErr := e.OnOrderRejected(ctx, o.ID); rejErr != nil && firstErr == nil {
				firstErr = rejErr
			}
			if firstErr == nil && !errors.Is(err, domain.ErrOrderRejected) {
				firstErr = fmt.Errorf("engine: submit order %s: %w", o.ID, err)
			}
			continue
		}
		fill.OrderID = o.ID
		if err := e.OnFill(ctx, fill); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OnFill records an execution result against its order and re-evaluates the
// owning position's legs.
func (e *Engine) OnFill(ctx context.Context, fill domain.Fill) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	at := fill.Timestamp
	if at.IsZero() {
		at = e.now().UTC()
	}
	if err := e.persist(ctx, "mark order filled", func() error {
		return e.ledger.MarkOrderFilled(ctx, fill.OrderID, at)
	}); err != nil {
		return err
	}
	e.noteFillOutcome(ctx, true)
	return e.evaluateLegsLocked(ctx, fill.OrderID)
}

// OnOrderRejected records an order rejection and re-evaluates the owning
// position's legs; a pair with exactly one filled leg goes through the
// emergency-exit protocol.
func (e *Engine) OnOrderRejected(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.persist(ctx, "mark order rejected", func() error {
		return e.ledger.MarkOrderRejected(ctx, orderID)
	}); err != nil {
		return err
	}
	e.noteFillOutcome(ctx, false)
	return e.evaluateLegsLocked(ctx, orderID)
}

// evaluateLegsLocked inspects the position owning orderID once no order of
// it is pending. One filled + one rejected leg is the legged case; all legs
// rejected means the position never existed economically and closes flat.
func (e *Engine) evaluateLegsLocked(ctx context.Context, orderID string) error {
	order, err := e.ledger.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	orders, err := e.ledger.OrdersFor(ctx, order.PositionID)
	if err != nil {
		return err
	}

	var filled, rejected []domain.Order
	for _, o := range orders {
		switch o.Status {
		case domain.OrderStatusPending:
			return nil // verdict pending until every leg resolves
		case domain.OrderStatusFilled:
			filled = append(filled, o)
		case domain.OrderStatusRejected:
			rejected = append(rejected, o)
		}
	}

	pos, err := e.ledger.GetPosition(ctx, order.PositionID)
	if err != nil {
		return err
	}
	if pos.Status != domain.PositionStatusOpen {
		return nil
	}

	switch {
	case len(rejected) == 0:
		// Every leg filled; nothing to do.
		return nil
	case len(filled) == 0:
		// Nothing filled: close flat, no capital was committed.
		if err := e.persist(ctx, "close unfilled position", func() error {
			return e.ledger.Close(ctx, pos.ID, 0, 0)
		}); err != nil {
			return err
		}
		return nil
	default:
		// Asymmetric fill: correct the ledger to the filled leg only,
		// mark legged, and force an exit.
		var yes, no float64
		for _, o := range filled {
			if o.Token == domain.TokenYes {
				yes += o.Size
			} else {
				no += o.Size
			}
		}
		if err := e.persist(ctx, "record legged shares", func() error {
			return e.ledger.UpdateShares(ctx, pos.ID, yes, no)
		}); err != nil {
			return err
		}
		if err := e.persist(ctx, "mark position legged", func() error {
			return e.ledger.MarkLegged(ctx, pos.ID)
		}); err != nil {
			return err
		}
		pos.YesShares, pos.NoShares = yes, no
		pos.Status = domain.PositionStatusLegged
		// Recompute the filled leg's cost basis from its orders.
		var cost float64
		for _, o := range filled {
			cost += o.Cost()
		}
		pos.Cost = cost
		return e.emergencyExitLocked(ctx, pos, domain.ExitReasonLeggedPosition)
	}
}

// ClosePosition realizes a normal exit at the given price, applying the P&L
// to the equity tracker and daily counters. Closing is allowed even while
// the breaker is open; reducing exposure is never gated.
func (e *Engine) ClosePosition(ctx context.Context, positionID string, exitPrice float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.ledger.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	proceeds := exitPrice * pos.FilledShares()
	pnl := proceeds - pos.Cost

	if err := e.persist(ctx, "close position", func() error {
		return e.ledger.Close(ctx, positionID, exitPrice, pnl)
	}); err != nil {
		return err
	}
	e.equity.ApplyRealizedPnL(pnl)
	e.counters.RecordRealizedPnL(pnl)
	return nil
}

// trip halts trading and cancels every pending order best-effort. Safe to
// call with or without e.mu held: the breaker carries its own lock and the
// cancellation sweep runs asynchronously so the critical section stays short.
func (e *Engine) trip(ctx context.Context, reason domain.TripReason, notes string) {
	if err := e.breaker.Trip(ctx, reason, notes); err != nil {
		e.logger.ErrorContext(ctx, "breaker trip persistence failed",
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
	}
	go e.cancelPendingOrders(context.WithoutCancel(ctx))
}

// cancelPendingOrders sweeps all pending orders on a trip. Cancellation is
// best-effort: a cancel that loses the race to a fill leaves the resulting
// position handled as if legged.
func (e *Engine) cancelPendingOrders(ctx context.Context) {
	pending, err := e.ledger.PendingOrders(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "cancel sweep: list pending orders", slog.String("error", err.Error()))
		return
	}
	for _, o := range pending {
		if err := e.exec.CancelOrder(ctx, o.ID); err == nil {
			// OnOrderRejected takes the engine mutex, keeping the sweep's
			// ledger writes serialized with concurrent proposals.
			if markErr := e.OnOrderRejected(ctx, o.ID); markErr != nil {
				e.logger.ErrorContext(ctx, "cancel sweep: mark cancelled", slog.String("order_id", o.ID), slog.String("error", markErr.Error()))
			}
			e.logger.InfoContext(ctx, "pending order cancelled", slog.String("order_id", o.ID))
			continue
		}

		status, fill, serr := e.exec.OrderStatus(ctx, o.ID)
		if serr != nil {
			e.logger.ErrorContext(ctx, "cancel sweep: order status unavailable",
				slog.String("order_id", o.ID), slog.String("error", serr.Error()))
			continue
		}
		if status == domain.OrderStatusFilled {
			e.logger.WarnContext(ctx, "cancel lost race to fill, handling as legged",
				slog.String("order_id", o.ID))
			f := domain.Fill{OrderID: o.ID, MarketID: o.MarketID, Size: o.Size, Price: o.Price, Cost: o.Cost()}
			if fill != nil {
				f = *fill
				f.OrderID = o.ID
			}
			if ferr := e.OnFill(ctx, f); ferr != nil {
				e.logger.ErrorContext(ctx, "cancel sweep: record race fill", slog.String("order_id", o.ID), slog.String("error", ferr.Error()))
			}
		}
	}
}

// persist runs a durable write with bounded retries, then escalates.
func (e *Engine) persist(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= e.cfg.PersistenceRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return err // not a transient storage failure
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return e.escalatePersistence(ctx, op, err)
}

// escalatePersistence converts an exhausted write into a breaker trip.
func (e *Engine) escalatePersistence(ctx context.Context, op string, err error) error {
	e.alerts.Send(ctx, domain.SeverityWarning, "Ledger write failing",
		fmt.Sprintf("%s: %v", op, err))
	e.trip(ctx, domain.TripApiErrorBurst, "persistence retries exhausted: "+op)
	if _, ok := err.(*domain.PersistenceError); ok {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func (e *Engine) noteFillOutcome(ctx context.Context, filled bool) {
	if reason, notes, trip := e.monitor.RecordFillOutcome(filled); trip {
		e.trip(ctx, reason, notes)
	}
}

func (e *Engine) noteLatency(ctx context.Context, d time.Duration) {
	if reason, notes, trip := e.monitor.RecordLatency(d); trip {
		e.trip(ctx, reason, notes)
	}
}

func (e *Engine) noteApiError(ctx context.Context) {
	if reason, notes, trip := e.monitor.RecordApiError(); trip {
		e.trip(ctx, reason, notes)
	}
}
