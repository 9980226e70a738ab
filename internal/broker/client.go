package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"invoiceMonitor/internal/failure"
)

// Client submits requests for one network and waits for the reply.
type Client struct {
	broker  *Broker
	network string
	timeout time.Duration
}

// Client returns a caller handle for network. A positive timeout bounds the
// wait for a reply; expiry is reported as a retryable failure.
func (b *Broker) Client(network string, timeout time.Duration) *Client {
	return &Client{broker: b, network: network, timeout: timeout}
}

func (c *Client) Network() string { return c.network }

// LastBlock returns the network's latest block number.
func (c *Client) LastBlock(ctx context.Context) (uint64, error) {
	resp, err := c.do(ctx, Request{Kind: GetLastBlock, Network: c.network})
	if err != nil {
		return 0, err
	}
	return resp.Block, nil
}

// Logs returns the filtered logs in [from, to].
func (c *Client) Logs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	resp, err := c.do(ctx, Request{Kind: GetLogs, Network: c.network, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	waitCtx := ctx
	cancel := func() {}
	if c.timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	reply := make(chan Response, 1)
	req.Reply = reply
	req.Done = waitCtx.Done()
	c.broker.Submit(req)

	select {
	case resp := <-reply:
		if resp.Err != nil {
			return resp, resp.Err
		}
		return resp, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, failure.NewRetryable(req.Kind.String(),
			fmt.Errorf("no reply for network %s within %s", c.network, c.timeout))
	}
}
