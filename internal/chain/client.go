package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"invoiceMonitor/internal/failure"
)

// Client wraps go-ethereum RPC for one network. It only watches one
// contract address for one event topic.
type Client struct {
	rpcURL   string
	contract common.Address
	topic0   common.Hash
	timeout  time.Duration

	mu        sync.Mutex
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient validates the endpoint and contract. Configuration problems are
// fatal for the network. The connection is opened by the first call, so an
// endpoint that is down at startup is retried like any other outage.
func NewClient(rpcURL string, contract common.Address, topic0 common.Hash, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Host == "" {
		return nil, failure.NewFatal("parse rpc url", fmt.Errorf("invalid rpc url %q", rpcURL))
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, failure.NewFatal("parse rpc url", fmt.Errorf("unsupported rpc scheme %q", parsed.Scheme))
	}
	if contract == (common.Address{}) {
		return nil, failure.NewFatal("contract address", fmt.Errorf("contract address is required"))
	}

	return &Client{
		rpcURL:   rpcURL,
		contract: contract,
		topic0:   topic0,
		timeout:  timeout,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient, c.ethClient = nil, nil
	}
}

// conn dials on first use. A failed dial is retryable and the next call
// dials again; once connected, go-ethereum reconnects websockets itself.
func (c *Client) conn(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ethClient != nil {
		return c.ethClient, nil
	}
	rpcClient, err := rpc.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, failure.NewRetryable("dial rpc", err)
	}
	c.rpcClient = rpcClient
	c.ethClient = ethclient.NewClient(rpcClient)
	return c.ethClient, nil
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, failure.NewRetryable("chain id", err)
	}
	return id, nil
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	eth, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	block, err := eth.BlockNumber(ctx)
	if err != nil {
		return 0, failure.NewRetryable("block number", err)
	}
	return block, nil
}

// FilterLogs returns the contract's event logs in [fromBlock, toBlock].
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
	}
	if c.topic0 != (common.Hash{}) {
		query.Topics = [][]common.Hash{{c.topic0}}
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, failure.NewRetryable("filter logs", err)
	}
	return logs, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
