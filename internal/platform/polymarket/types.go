package polymarket

import (
	"weatheredge/internal/domain"
)

// sideCode maps a domain order side to the EIP-712 side enum.
func sideCode(side domain.OrderSide) int {
	if side == domain.OrderSideSell {
		return 1
	}
	return 0
}

// APIOrderResult is the CLOB response to an order submission.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"` // "matched", "live", "delayed", "unmatched"
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}

// APIOrder is one order as reported by the CLOB order-status endpoint.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "LIVE", "MATCHED", "CANCELED"
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Side         string `json:"side"`
	AssetID      string `json:"asset_id"`
	Market       string `json:"market"`
}

// APIMarket is the subset of the CLOB market object needed to resolve a
// market's outcome token ids.
type APIMarket struct {
	ConditionID string     `json:"condition_id"`
	Tokens      []APIToken `json:"tokens"`
}

// APIToken is one outcome token of a market.
type APIToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"` // "Yes" / "No"
}
