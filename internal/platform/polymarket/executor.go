package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"weatheredge/internal/chain"
	"weatheredge/internal/crypto"
	"weatheredge/internal/domain"
)

const shareDecimals = 1_000_000 // both USDC and outcome tokens use 6 decimals

// zeroAddress is the open taker for public CLOB orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// marketTokens are the resolved outcome token ids for one market.
type marketTokens struct {
	yes string
	no  string
}

// Executor is the live execution client. It signs orders with the wallet
// key, submits them to the CLOB, and answers on-chain balance queries via
// the conditional token contract.
type Executor struct {
	clob   *ClobClient
	signer *crypto.Signer
	chain  *chain.Client
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]marketTokens // marketID (condition id) -> token ids
}

// NewExecutor creates a live executor. chainClient may be nil when on-chain
// reconciliation is disabled; OnChainBalance then fails.
func NewExecutor(clob *ClobClient, signer *crypto.Signer, chainClient *chain.Client, logger *slog.Logger) *Executor {
	return &Executor{
		clob:   clob,
		signer: signer,
		chain:  chainClient,
		logger: logger.With("component", "executor"),
		tokens: make(map[string]marketTokens),
	}
}

// SubmitOrder signs and posts an order to the CLOB. FOK orders that do not
// match immediately return ErrOrderRejected.
func (e *Executor) SubmitOrder(ctx context.Context, order domain.Order) (domain.Fill, error) {
	tokenID, err := e.tokenID(ctx, order.MarketID, order.Token)
	if err != nil {
		return domain.Fill{}, err
	}

	payload := e.buildPayload(order, tokenID)
	sig, err := e.signer.SignOrder(payload)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("polymarket/executor: sign order: %w", err)
	}

	result, err := e.clob.PostOrder(ctx, payload, sig, order.Type)
	if err != nil {
		return domain.Fill{}, err
	}
	if !result.Success {
		return domain.Fill{}, fmt.Errorf("%w: %s", domain.ErrOrderRejected, result.ErrorMsg)
	}
	if order.Type == domain.OrderTypeFOK && result.Status != "matched" {
		return domain.Fill{}, fmt.Errorf("%w: FOK order not matched (status %q)", domain.ErrOrderRejected, result.Status)
	}

	fill := e.buildFill(order, result)
	e.logger.Info("order filled",
		"order_id", order.ID,
		"market_id", order.MarketID,
		"exchange_order_id", result.OrderID,
		"size", fill.Size,
		"price", fill.Price)
	return fill, nil
}

// CancelOrder cancels an order on the exchange.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	return e.clob.CancelOrder(ctx, orderID)
}

// OrderStatus maps the exchange order state onto the local lifecycle.
func (e *Executor) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, *domain.Fill, error) {
	order, err := e.clob.GetOrder(ctx, orderID)
	if err != nil {
		return "", nil, err
	}

	switch order.Status {
	case "LIVE":
		return domain.OrderStatusPending, nil, nil
	case "MATCHED":
		price, _ := strconv.ParseFloat(order.Price, 64)
		size, _ := strconv.ParseFloat(order.SizeMatched, 64)
		fill := &domain.Fill{
			OrderID:   orderID,
			MarketID:  order.Market,
			Size:      size,
			Price:     price,
			Cost:      price * size,
			Timestamp: time.Now().UTC(),
		}
		return domain.OrderStatusFilled, fill, nil
	case "CANCELED":
		return domain.OrderStatusRejected, nil, nil
	default:
		return "", nil, fmt.Errorf("polymarket/executor: unknown order status %q", order.Status)
	}
}

// OnChainBalance queries the conditional token contract for the wallet's
// held shares of both outcomes of a market.
func (e *Executor) OnChainBalance(ctx context.Context, marketID string) (float64, float64, error) {
	if e.chain == nil {
		return 0, 0, fmt.Errorf("polymarket/executor: no chain client configured")
	}

	toks, err := e.marketTokens(ctx, marketID)
	if err != nil {
		return 0, 0, err
	}

	yesID, ok := new(big.Int).SetString(toks.yes, 10)
	if !ok {
		return 0, 0, fmt.Errorf("polymarket/executor: invalid yes token id %q", toks.yes)
	}
	noID, ok := new(big.Int).SetString(toks.no, 10)
	if !ok {
		return 0, 0, fmt.Errorf("polymarket/executor: invalid no token id %q", toks.no)
	}

	yes, err := e.chain.BalanceOf(ctx, yesID)
	if err != nil {
		return 0, 0, err
	}
	no, err := e.chain.BalanceOf(ctx, noID)
	if err != nil {
		return 0, 0, err
	}
	return yes, no, nil
}

// buildPayload converts a domain order into the signed CLOB wire format.
// For buys the maker amount is USDC in and the taker amount is shares out;
// for sells the two are swapped.
func (e *Executor) buildPayload(order domain.Order, tokenID string) crypto.OrderPayload {
	shares := int64(order.Size * shareDecimals)
	usdc := int64(order.Price * order.Size * shareDecimals)

	var makerAmount, takerAmount int64
	if order.Side == domain.OrderSideBuy {
		makerAmount, takerAmount = usdc, shares
	} else {
		makerAmount, takerAmount = shares, usdc
	}

	address := e.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode(order.Side),
		SignatureType: 0,
	}
}

// buildFill derives the executed size and price from the matched amounts
// the exchange reports, falling back to the limit terms when absent.
func (e *Executor) buildFill(order domain.Order, result APIOrderResult) domain.Fill {
	size := order.Size
	price := order.Price

	taking, terrr := strconv.ParseFloat(result.TakingAmount, 64)
	making, merr := strconv.ParseFloat(result.MakingAmount, 64)
	if terrr == nil && merr == nil && taking > 0 && making > 0 {
		if order.Side == domain.OrderSideBuy {
			// taking = shares received, making = USDC spent
			size = taking
			price = making / taking
		} else {
			size = making
			price = taking / making
		}
	}

	return domain.Fill{
		OrderID:   order.ID,
		MarketID:  order.MarketID,
		Size:      size,
		Price:     price,
		Cost:      price * size,
		Timestamp: time.Now().UTC(),
	}
}

// tokenID resolves the outcome token id for one side of a market.
func (e *Executor) tokenID(ctx context.Context, marketID string, token domain.Token) (string, error) {
	toks, err := e.marketTokens(ctx, marketID)
	if err != nil {
		return "", err
	}
	if token == domain.TokenYes {
		return toks.yes, nil
	}
	return toks.no, nil
}

// marketTokens resolves and caches the outcome token ids for a market.
func (e *Executor) marketTokens(ctx context.Context, marketID string) (marketTokens, error) {
	e.mu.Lock()
	if toks, ok := e.tokens[marketID]; ok {
		e.mu.Unlock()
		return toks, nil
	}
	e.mu.Unlock()

	market, err := e.clob.GetMarket(ctx, marketID)
	if err != nil {
		return marketTokens{}, err
	}

	var toks marketTokens
	for _, t := range market.Tokens {
		switch t.Outcome {
		case "Yes":
			toks.yes = t.TokenID
		case "No":
			toks.no = t.TokenID
		}
	}
	if toks.yes == "" || toks.no == "" {
		return marketTokens{}, fmt.Errorf("polymarket/executor: market %s missing outcome tokens", marketID)
	}

	e.mu.Lock()
	e.tokens[marketID] = toks
	e.mu.Unlock()
	return toks, nil
}
