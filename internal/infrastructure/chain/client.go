// Package chain wraps go-ethereum RPC clients for the payment and payout chains.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Backend is the RPC surface used by the client. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Config describes one chain endpoint.
type Config struct {
	Name    string
	RPC     string
	ChainID int64
	Timeout time.Duration
}

// Client is a circuit-broken RPC client bound to one chain.
type Client struct {
	config         Config
	backend        Backend
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// Dial connects to cfg.RPC.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", cfg.Name, err)
	}
	return NewClient(cfg, ec, logger), nil
}

// NewClient wraps backend.
func NewClient(cfg Config, backend Backend, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log := logger.With(zap.String("chain", cfg.Name))

	cbSettings := gobreaker.Settings{
		Name:        cfg.Name + "-rpc",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("RPC circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: nodeAnswered,
	}

	return &Client{
		config:         cfg,
		backend:        backend,
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		logger:         log,
	}
}

// nodeAnswered treats replies from a live node as successes so that lookups
// of unknown hashes or rejected transactions never open the breaker.
func nodeAnswered(err error) bool {
	if err == nil || errors.Is(err, ethereum.NotFound) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func call[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.config.Name }

// ChainID queries the node's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, c.backend.ChainID)
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, c.backend.BlockNumber)
}

// HeaderByNumber returns a header; nil number means latest.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, c, func(ctx context.Context) (*types.Header, error) {
		return c.backend.HeaderByNumber(ctx, number)
	})
}

// TransactionReceipt returns ethereum.NotFound for unmined transactions.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(ctx, c, func(ctx context.Context) (*types.Receipt, error) {
		return c.backend.TransactionReceipt(ctx, txHash)
	})
}

// TransactionByHash looks a transaction up in the pool or chain.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	type found struct {
		tx      *types.Transaction
		pending bool
	}
	out, err := call(ctx, c, func(ctx context.Context) (found, error) {
		tx, pending, err := c.backend.TransactionByHash(ctx, hash)
		return found{tx, pending}, err
	})
	return out.tx, out.pending, err
}

// PendingNonceAt returns the next nonce including pool transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, c, func(ctx context.Context) (uint64, error) {
		return c.backend.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice returns the node's legacy gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, c.backend.SuggestGasPrice)
}

// BalanceAt returns the native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return call(ctx, c, func(ctx context.Context) (*big.Int, error) {
		return c.backend.BalanceAt(ctx, account, blockNumber)
	})
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.SendTransaction(ctx, tx)
	})
	return err
}

// Ping checks the node answers and serves the configured chain.
func (c *Client) Ping(ctx context.Context) error {
	id, err := c.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%s rpc unreachable: %w", c.config.Name, err)
	}
	if c.config.ChainID != 0 && id.Int64() != c.config.ChainID {
		return fmt.Errorf("%s rpc serves chain %s, expected %d", c.config.Name, id, c.config.ChainID)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() {
	c.backend.Close()
}
