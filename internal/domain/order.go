package domain

import "time"

// Token identifies which outcome token an order trades.
type Token string

const (
	TokenYes Token = "YES"
	TokenNo  Token = "NO"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order is one submitted exchange order, owned by exactly one position.
// An order referencing a missing position is invalid.
type Order struct {
	ID          string
	PositionID  string
	MarketID    string
	Side        OrderSide
	Token       Token
	Price       float64
	Size        float64 // shares
	Type        OrderType
	SubmittedAt time.Time
	FilledAt    *time.Time
	Status      OrderStatus
}

// Cost returns the notional USD cost of the order at its limit price.
func (o Order) Cost() float64 {
	return o.Price * o.Size
}

// Fill is the execution result reported for an order.
type Fill struct {
	OrderID   string
	MarketID  string
	Size      float64
	Price     float64
	Cost      float64
	Timestamp time.Time
}
