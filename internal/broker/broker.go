// Package broker serializes every RPC call of every network through one
// consumer so a single rate limiter can account for the shared provider budget.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"invoiceMonitor/internal/failure"
	"invoiceMonitor/internal/metrics"
)

// Adapter is the RPC surface of one network.
type Adapter interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
}

// Limiter delays admission until a request of cost fits the budget.
type Limiter interface {
	Admit(ctx context.Context, cost int) error
}

// Broker owns the adapters and the limiter. Only Run touches them.
type Broker struct {
	adapters map[string]Adapter
	limiter  Limiter
	costs    Costs
	timeout  time.Duration
	queue    *queue
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New builds a Broker. adapters is keyed by network name.
func New(adapters map[string]Adapter, limiter Limiter, costs Costs, logger *zap.Logger, m *metrics.Metrics) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	owned := make(map[string]Adapter, len(adapters))
	for name, adapter := range adapters {
		owned[name] = adapter
	}
	return &Broker{
		adapters: owned,
		limiter:  limiter,
		costs:    costs,
		queue:    newQueue(),
		logger:   logger,
		metrics:  m,
	}
}

// SetCallTimeout bounds every adapter call so a hung endpoint cannot hold
// the consumer longer than d. Call it before Run.
func (b *Broker) SetCallTimeout(d time.Duration) {
	b.timeout = d
}

// Submit enqueues req. It never blocks on the consumer.
func (b *Broker) Submit(req Request) {
	b.metrics.SetQueueDepth(b.queue.push(req))
}

// Pending returns the number of queued requests.
func (b *Broker) Pending() int {
	return b.queue.len()
}

// Run serves requests one at a time, in arrival order, until ctx is done.
func (b *Broker) Run(ctx context.Context) error {
	if b.limiter == nil {
		return fmt.Errorf("limiter is nil")
	}
	b.logger.Info("broker start", zap.Int("networks", len(b.adapters)))

	for {
		req, depth, err := b.queue.pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		b.metrics.SetQueueDepth(depth)

		if err := b.serve(ctx, req); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (b *Broker) serve(ctx context.Context, req Request) error {
	adapter, ok := b.adapters[req.Network]
	if !ok {
		b.logger.Warn("drop request for unknown network",
			zap.String("network", req.Network),
			zap.Stringer("kind", req.Kind),
		)
		b.metrics.ObserveRequest(req.Network, req.Kind.String(), "dropped", 0, 0)
		return nil
	}
	if req.abandoned() {
		b.logger.Debug("skip abandoned request", zap.String("network", req.Network), zap.Stringer("kind", req.Kind))
		b.metrics.ObserveRequest(req.Network, req.Kind.String(), "dropped", 0, 0)
		return nil
	}

	cost := b.costs.For(req.Kind)
	admitStart := time.Now()
	if err := b.limiter.Admit(ctx, cost); err != nil {
		return fmt.Errorf("admit %s: %w", req.Kind, err)
	}
	b.metrics.ObserveAdmission(time.Since(admitStart))

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
	}
	defer cancel()

	callStart := time.Now()
	var resp Response
	switch req.Kind {
	case GetLastBlock:
		resp.Block, resp.Err = adapter.LatestBlockNumber(callCtx)
	case GetLogs:
		resp.Logs, resp.Err = adapter.FilterLogs(callCtx, req.From, req.To)
	default:
		resp.Err = failure.NewPermanent("broker", fmt.Errorf("unknown request kind %d", req.Kind))
	}
	if resp.Err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		resp.Err = failure.NewRetryable(req.Kind.String(), fmt.Errorf("call exceeded %s: %w", b.timeout, resp.Err))
	}

	outcome := "ok"
	if resp.Err != nil {
		outcome = "error"
		b.logger.Warn("rpc call failed",
			zap.String("network", req.Network),
			zap.Stringer("kind", req.Kind),
			zap.Error(resp.Err),
		)
	}
	b.metrics.ObserveRequest(req.Network, req.Kind.String(), outcome, cost, time.Since(callStart))

	select {
	case req.Reply <- resp:
	default:
		b.logger.Warn("reply channel full", zap.String("network", req.Network), zap.Stringer("kind", req.Kind))
	}
	return nil
}
