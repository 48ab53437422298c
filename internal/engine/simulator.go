package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"weatheredge/internal/domain"
)

// SimulatorConfig tunes the paper-trading execution model.
type SimulatorConfig struct {
	// FillRate is the probability a submitted order fills at all.
	FillRate float64
	// SlippageBps widens the fill price against the taker, in basis points.
	SlippageBps float64
	// Latency is added to every call to mimic venue round trips.
	Latency time.Duration
	// GasGwei is the constant gas price the simulator reports.
	GasGwei float64
	Seed    int64
}

// Simulator is an in-process ExecutionClient and GasOracle for paper
// trading. It tracks the "on-chain" share ledger itself so startup
// reconciliation runs against it exactly as it would against mainnet.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	balances map[string]*simBalance // marketID -> held shares
	orders   map[string]simOrder    // orderID -> resolved outcome
}

type simBalance struct {
	yes, no float64
}

type simOrder struct {
	status domain.OrderStatus
	fill   *domain.Fill
}

// NewSimulator creates a paper-trading venue. Seed 0 uses the clock.
func NewSimulator(cfg SimulatorConfig, logger *slog.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.FillRate <= 0 {
		cfg.FillRate = 0.70
	}
	return &Simulator{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "simulator")),
		rng:      rand.New(rand.NewSource(seed)),
		balances: make(map[string]*simBalance),
		orders:   make(map[string]simOrder),
	}
}

// SubmitOrder fills with probability FillRate at a slipped price, updating
// the simulated on-chain balances. Unfilled orders return ErrOrderRejected,
// matching a killed FOK on the real venue.
func (s *Simulator) SubmitOrder(ctx context.Context, order domain.Order) (domain.Fill, error) {
	if err := s.sleep(ctx); err != nil {
		return domain.Fill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() >= s.cfg.FillRate {
		s.orders[order.ID] = simOrder{status: domain.OrderStatusRejected}
		s.logger.DebugContext(ctx, "simulated order killed",
			slog.String("order_id", order.ID),
			slog.String("market_id", order.MarketID),
		)
		return domain.Fill{}, fmt.Errorf("simulator: order %s: %w", order.ID, domain.ErrOrderRejected)
	}

	price := s.slip(order)
	fill := domain.Fill{
		OrderID:   order.ID,
		MarketID:  order.MarketID,
		Size:      order.Size,
		Price:     price,
		Cost:      price * order.Size,
		Timestamp: time.Now().UTC(),
	}
	s.applyFill(order)
	s.orders[order.ID] = simOrder{status: domain.OrderStatusFilled, fill: &fill}

	s.logger.DebugContext(ctx, "simulated fill",
		slog.String("order_id", order.ID),
		slog.Float64("price", price),
		slog.Float64("size", order.Size),
	)
	return fill, nil
}

// CancelOrder succeeds for any order the simulator has not already resolved.
func (s *Simulator) CancelOrder(ctx context.Context, orderID string) error {
	if err := s.sleep(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orders[orderID]; ok && o.status == domain.OrderStatusFilled {
		return fmt.Errorf("simulator: cancel %s: already filled", orderID)
	}
	s.orders[orderID] = simOrder{status: domain.OrderStatusRejected}
	return nil
}

// OrderStatus reports a resolved order's outcome. Unknown orders are pending.
func (s *Simulator) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, *domain.Fill, error) {
	if err := s.sleep(ctx); err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.OrderStatusPending, nil, nil
	}
	return o.status, o.fill, nil
}

// OnChainBalance reports the simulated held shares for a market.
func (s *Simulator) OnChainBalance(ctx context.Context, marketID string) (float64, float64, error) {
	if err := s.sleep(ctx); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[marketID]
	if !ok {
		return 0, 0, nil
	}
	return b.yes, b.no, nil
}

// GasPriceGwei returns the configured constant gas price.
func (s *Simulator) GasPriceGwei(ctx context.Context) (float64, error) {
	return s.cfg.GasGwei, nil
}

// SeedBalance preloads on-chain shares, used to stage recovery scenarios.
func (s *Simulator) SeedBalance(marketID string, yes, no float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[marketID] = &simBalance{yes: yes, no: no}
}

func (s *Simulator) slip(order domain.Order) float64 {
	slip := order.Price * s.cfg.SlippageBps / 10_000
	if order.Side == domain.OrderSideBuy {
		return order.Price + slip
	}
	return order.Price - slip
}

func (s *Simulator) applyFill(order domain.Order) {
	b, ok := s.balances[order.MarketID]
	if !ok {
		b = &simBalance{}
		s.balances[order.MarketID] = b
	}
	delta := order.Size
	if order.Side == domain.OrderSideSell {
		delta = -delta
	}
	if order.Token == domain.TokenYes {
		b.yes += delta
	} else {
		b.no += delta
	}
	if b.yes < 0 {
		b.yes = 0
	}
	if b.no < 0 {
		b.no = 0
	}
}

func (s *Simulator) sleep(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.Latency):
		return nil
	}
}
