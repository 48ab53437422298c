// Package chain talks to Polygon over a redundant pair of JSON-RPC
// endpoints. Reads fail over from the primary to the fallback; only when
// both endpoints fail does a call surface ErrDualRpcFailure, which halts
// trading upstream.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"weatheredge/internal/domain"
)

// balanceOfSelector is the 4-byte selector of ERC-1155 balanceOf(address,uint256).
var balanceOfSelector = []byte{0x00, 0xfd, 0xd5, 0x8e}

// Config holds the endpoints and addresses needed for chain reads.
type Config struct {
	PrimaryRPC  string
	FallbackRPC string
	// CTFAddress is the conditional tokens (ERC-1155) contract holding
	// outcome share balances.
	CTFAddress common.Address
	// Owner is the wallet whose balances are reconciled.
	Owner        common.Address
	QueryTimeout time.Duration
}

// Client is a dual-endpoint Polygon read client. It implements
// domain.GasOracle and provides the ERC-1155 balance reads used for
// position reconciliation.
type Client struct {
	cfg      Config
	primary  *ethclient.Client
	fallback *ethclient.Client
	logger   *slog.Logger
}

// Dial connects both RPC endpoints. Dialing is lazy in go-ethereum for HTTP
// transports, so failures surface on first use rather than here.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	primary, err := ethclient.DialContext(ctx, cfg.PrimaryRPC)
	if err != nil {
		return nil, fmt.Errorf("chain: dial primary rpc: %w", err)
	}
	fallback, err := ethclient.DialContext(ctx, cfg.FallbackRPC)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("chain: dial fallback rpc: %w", err)
	}
	return &Client{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases both endpoint connections.
func (c *Client) Close() {
	c.primary.Close()
	c.fallback.Close()
}

// withFailover runs fn against the primary endpoint, then the fallback.
// Both failing is the dual-RPC condition.
func (c *Client) withFailover(ctx context.Context, op string, fn func(ctx context.Context, ec *ethclient.Client) error) error {
	qctx, cancel := c.queryContext(ctx)
	primaryErr := fn(qctx, c.primary)
	cancel()
	if primaryErr == nil {
		return nil
	}
	c.logger.WarnContext(ctx, "primary rpc failed, trying fallback",
		slog.String("op", op),
		slog.String("error", primaryErr.Error()),
	)

	qctx, cancel = c.queryContext(ctx)
	fallbackErr := fn(qctx, c.fallback)
	cancel()
	if fallbackErr == nil {
		return nil
	}
	return fmt.Errorf("chain: %s: primary: %v; fallback: %v: %w",
		op, primaryErr, fallbackErr, domain.ErrDualRpcFailure)
}

func (c *Client) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.QueryTimeout)
}

// GasPriceGwei implements domain.GasOracle.
func (c *Client) GasPriceGwei(ctx context.Context) (float64, error) {
	var wei *big.Int
	err := c.withFailover(ctx, "suggest gas price", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		wei, err = ec.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	gwei, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(1e9),
	).Float64()
	return gwei, nil
}

// BalanceOf reads the owner's ERC-1155 balance for one outcome token,
// returned in whole shares (the conditional token uses 6 decimals).
func (c *Client) BalanceOf(ctx context.Context, tokenID *big.Int) (float64, error) {
	data := make([]byte, 0, 4+32+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(c.cfg.Owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(tokenID.Bytes(), 32)...)

	msg := ethereum.CallMsg{To: &c.cfg.CTFAddress, Data: data}

	var raw []byte
	err := c.withFailover(ctx, "balanceOf", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		raw, err = ec.CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(raw) < 32 {
		return 0, fmt.Errorf("chain: balanceOf: short return data (%d bytes)", len(raw))
	}

	units := new(big.Int).SetBytes(raw[:32])
	shares, _ := new(big.Float).Quo(
		new(big.Float).SetInt(units),
		big.NewFloat(1e6),
	).Float64()
	return shares, nil
}
