package domain

import "time"

// TradeProposal is what a strategy hands the engine: a market, a side, a
// price, a proposed USD size, and the computed edge versus the market price.
// The engine never second-guesses the sizing math; it only decides whether
// the proposal is allowed to become a position.
type TradeProposal struct {
	ID        string
	MarketID  string
	Strategy  string
	Side      Side
	Price     float64
	Size      float64  // proposed cost in USD
	Edge      *float64 // nil when the strategy computes no edge (e.g. pure arbitrage)
	Liquidity float64  // liquidity proxy in USD for the market-quality gate
	// YesPrice and NoPrice carry the per-leg limit prices for two-leg
	// proposals (Side empty). Price is then the combined cost per pair.
	YesPrice  float64
	NoPrice   float64
	CreatedAt time.Time
}

// Shares returns the share count the proposal would buy at its price.
func (p TradeProposal) Shares() float64 {
	if p.Price <= 0 {
		return 0
	}
	return p.Size / p.Price
}
