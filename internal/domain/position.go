package domain

import "time"

// PositionStatus tracks the lifecycle of a position.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
	// PositionStatusLegged marks a multi-leg position where only one side
	// filled, leaving unhedged directional exposure. Legged positions are
	// resolved through the emergency-exit protocol before they close.
	PositionStatusLegged PositionStatus = "legged"
)

// Side is the outcome token a position is exposed to. Empty for arbitrage
// positions that hold both sides.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Position represents one trade unit in the ledger. Cost must equal
// entry_price * total shares at open; once closed, PnL and ClosedAt are set
// exactly once and never mutated again.
type Position struct {
	ID             string
	MarketID       string
	Strategy       string
	Side           Side // empty when the position holds both tokens
	CorrelationKey string
	YesShares      float64
	NoShares       float64
	EntryPrice     float64
	Cost           float64
	OpenedAt       time.Time
	ClosedAt       *time.Time
	PnL            *float64
	Status         PositionStatus
}

// TotalShares returns the combined share count across both outcome tokens.
func (p Position) TotalShares() float64 {
	return p.YesShares + p.NoShares
}

// FilledShares returns the share count on the filled side of a legged
// position: whichever token balance is non-zero.
func (p Position) FilledShares() float64 {
	if p.YesShares > 0 {
		return p.YesShares
	}
	return p.NoShares
}
