package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

const (
	defaultCallTimeout = 30 * time.Second
	// Block timestamps kept before the cache is reset.
	maxCachedTimestamps = 10000
	callAttempts        = 3
)

var ErrBlockNotFound = errors.New("block not found")

// Client wraps an Ethereum JSON-RPC connection to a BSC node
type Client struct {
	rpc      *rpc.Client
	client   *ethclient.Client
	endpoint string
	chainID  *big.Int
	logger   zerolog.Logger

	// retryDelay is the wait after the first failed attempt; it grows linearly.
	retryDelay time.Duration

	mu         sync.Mutex
	timestamps map[uint64]uint64
}

// NewClient dials endpoint over HTTP and checks the node's chain id.
func NewClient(ctx context.Context, endpoint string, chainID int64, logger zerolog.Logger) (*Client, error) {
	httpClient := &http.Client{
		Timeout: defaultCallTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	rpcClient, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	c := NewClientFromRPC(rpcClient, chainID, logger)
	c.endpoint = endpoint

	verifyCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	networkID, err := c.client.ChainID(verifyCtx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to verify chain ID, continuing anyway")
	} else if networkID.Int64() != chainID {
		c.logger.Warn().
			Int64("expected", chainID).
			Int64("got", networkID.Int64()).
			Msg("Chain ID mismatch, continuing anyway")
	}

	c.logger.Info().
		Str("endpoint", endpoint).
		Int64("chain_id", chainID).
		Msg("Connected to RPC endpoint")

	return c, nil
}

// NewClientFromRPC wraps an existing connection.
func NewClientFromRPC(rpcClient *rpc.Client, chainID int64, logger zerolog.Logger) *Client {
	return &Client{
		rpc:        rpcClient,
		client:     ethclient.NewClient(rpcClient),
		chainID:    big.NewInt(chainID),
		logger:     logger.With().Str("component", "rpc").Logger(),
		retryDelay: time.Second,
		timestamps: make(map[uint64]uint64),
	}
}

func (c *Client) Close() {
	c.client.Close()
	c.logger.Info().Msg("RPC client connection closed")
}

// Eth exposes the underlying client for contract bindings.
func (c *Client) Eth() *ethclient.Client {
	return c.client
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultCallTimeout)
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	blockNumber, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// FilterLogs fetches logs matching query, retrying transient failures.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.Retry(ctx, func() error {
		callCtx, cancel := withDefaultTimeout(ctx)
		defer cancel()

		var err error
		logs, err = c.client.FilterLogs(callCtx, query)
		return err
	}, callAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return logs, nil
}

type blockHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// BlockTimestamps returns the timestamp of every requested block. Blocks not
// cached are fetched in one JSON-RPC batch.
func (c *Client) BlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64, len(numbers))
	var missing []uint64

	c.mu.Lock()
	for _, n := range numbers {
		if ts, ok := c.timestamps[n]; ok {
			out[n] = ts
		} else if _, dup := out[n]; !dup {
			missing = append(missing, n)
			out[n] = 0
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	headers := make([]*blockHeader, len(missing))
	batch := make([]rpc.BatchElem, len(missing))
	for i, n := range missing {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(n), false},
			Result: &headers[i],
		}
	}

	err := c.Retry(ctx, func() error {
		callCtx, cancel := withDefaultTimeout(ctx)
		defer cancel()
		return c.rpc.BatchCallContext(callCtx, batch)
	}, callAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block headers: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timestamps)+len(missing) > maxCachedTimestamps {
		c.timestamps = make(map[uint64]uint64)
	}
	for i, n := range missing {
		if batch[i].Error != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", n, batch[i].Error)
		}
		if headers[i] == nil {
			return nil, fmt.Errorf("block %d: %w", n, ErrBlockNotFound)
		}
		ts := uint64(headers[i].Timestamp)
		c.timestamps[n] = ts
		out[n] = ts
	}

	c.logger.Debug().Int("fetched", len(missing)).Msg("Fetched block timestamps")
	return out, nil
}

// Retry runs fn until it succeeds, ctx ends or maxRetries attempts fail. The
// wait grows by retryDelay per attempt.
func (c *Client) Retry(ctx context.Context, fn func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * c.retryDelay
			c.logger.Warn().
				Err(err).
				Int("attempt", i+1).
				Dur("wait", waitTime).
				Msg("Retrying RPC call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}
