package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceMonitor/internal/failure"
	"invoiceMonitor/internal/ratelimit"
)

type call struct {
	network string
	kind    Kind
	from    uint64
	to      uint64
}

// fakeAdapter records calls and checks the broker never overlaps them.
type fakeAdapter struct {
	name     string
	block    uint64
	logs     []types.Log
	err      error
	inflight *int32
	overlap  *int32
	calls    chan<- call
}

func (a *fakeAdapter) enter() func() {
	if atomic.AddInt32(a.inflight, 1) > 1 {
		atomic.StoreInt32(a.overlap, 1)
	}
	return func() { atomic.AddInt32(a.inflight, -1) }
}

func (a *fakeAdapter) LatestBlockNumber(context.Context) (uint64, error) {
	defer a.enter()()
	time.Sleep(time.Millisecond)
	if a.calls != nil {
		a.calls <- call{network: a.name, kind: GetLastBlock}
	}
	return a.block, a.err
}

func (a *fakeAdapter) FilterLogs(_ context.Context, from, to uint64) ([]types.Log, error) {
	defer a.enter()()
	time.Sleep(time.Millisecond)
	if a.calls != nil {
		a.calls <- call{network: a.name, kind: GetLogs, from: from, to: to}
	}
	return a.logs, a.err
}

type recordingLimiter struct {
	mu    sync.Mutex
	costs []int
}

func (l *recordingLimiter) Admit(_ context.Context, cost int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.costs = append(l.costs, cost)
	return nil
}

func (l *recordingLimiter) charged() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.costs...)
}

func startBroker(t *testing.T, b *Broker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestBrokerServesInArrivalOrder(t *testing.T) {
	var inflight, overlap int32
	calls := make(chan call, 16)
	adapters := map[string]Adapter{
		"sepolia": &fakeAdapter{name: "sepolia", block: 100, inflight: &inflight, overlap: &overlap, calls: calls},
		"polygon": &fakeAdapter{name: "polygon", block: 200, inflight: &inflight, overlap: &overlap, calls: calls},
	}
	limiter := &recordingLimiter{}
	b := New(adapters, limiter, DefaultCosts(), nil, nil)

	replies := make([]chan Response, 4)
	reqs := []Request{
		{Kind: GetLastBlock, Network: "sepolia"},
		{Kind: GetLogs, Network: "polygon", From: 1, To: 5},
		{Kind: GetLogs, Network: "sepolia", From: 6, To: 9},
		{Kind: GetLastBlock, Network: "polygon"},
	}
	for i := range reqs {
		replies[i] = make(chan Response, 1)
		reqs[i].Reply = replies[i]
		b.Submit(reqs[i])
	}
	assert.Equal(t, 4, b.Pending())

	startBroker(t, b)

	for i, req := range reqs {
		got := <-calls
		assert.Equal(t, call{network: req.Network, kind: req.Kind, from: req.From, to: req.To}, got, "call %d", i)
	}
	for _, reply := range replies {
		resp := <-reply
		assert.NoError(t, resp.Err)
	}

	assert.Equal(t, []int{80, 255, 255, 80}, limiter.charged())
	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap), "calls never overlap")
}

func TestBrokerDropsUnknownNetwork(t *testing.T) {
	var inflight, overlap int32
	limiter := &recordingLimiter{}
	b := New(map[string]Adapter{
		"sepolia": &fakeAdapter{name: "sepolia", block: 7, inflight: &inflight, overlap: &overlap},
	}, limiter, DefaultCosts(), nil, nil)
	startBroker(t, b)

	_, err := b.Client("mainnet", 50*time.Millisecond).LastBlock(context.Background())
	require.Error(t, err)
	assert.True(t, failure.IsRetryable(err), "missing reply is retryable")

	block, err := b.Client("sepolia", time.Second).LastBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), block)
	assert.Equal(t, []int{80}, limiter.charged(), "dropped requests are not charged")
}

func TestBrokerSkipsAbandonedRequests(t *testing.T) {
	var inflight, overlap int32
	limiter := &recordingLimiter{}
	b := New(map[string]Adapter{
		"sepolia": &fakeAdapter{name: "sepolia", inflight: &inflight, overlap: &overlap},
	}, limiter, DefaultCosts(), nil, nil)

	done := make(chan struct{})
	close(done)
	reply := make(chan Response, 1)
	b.Submit(Request{Kind: GetLogs, Network: "sepolia", Reply: reply, Done: done})

	startBroker(t, b)

	_, err := b.Client("sepolia", time.Second).LastBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{80}, limiter.charged())
	assert.Empty(t, reply)
}

func TestBrokerPropagatesAdapterErrors(t *testing.T) {
	var inflight, overlap int32
	cause := failure.NewRetryable("filter logs", errors.New("502 bad gateway"))
	b := New(map[string]Adapter{
		"sepolia": &fakeAdapter{name: "sepolia", err: cause, inflight: &inflight, overlap: &overlap},
	}, &recordingLimiter{}, DefaultCosts(), nil, nil)
	startBroker(t, b)

	_, err := b.Client("sepolia", time.Second).Logs(context.Background(), 1, 2)
	assert.ErrorIs(t, err, cause)
	assert.True(t, failure.IsRetryable(err))
}

func TestClientHonoursCallerContext(t *testing.T) {
	b := New(nil, &recordingLimiter{}, DefaultCosts(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Client("sepolia", time.Second).LastBlock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// clockedLimiter records when each admission happened on a manual clock.
type clockedLimiter struct {
	stack *ratelimit.Stack
	clock *ratelimit.ManualClock
	log   []struct {
		at   time.Time
		cost int
	}
}

func (l *clockedLimiter) Admit(ctx context.Context, cost int) error {
	if err := l.stack.Admit(ctx, cost); err != nil {
		return err
	}
	l.log = append(l.log, struct {
		at   time.Time
		cost int
	}{at: l.clock.Now(), cost: cost})
	return nil
}

func TestConcurrentCallersShareOneBudget(t *testing.T) {
	var inflight, overlap int32
	clock := ratelimit.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	stack, err := ratelimit.NewStack(ratelimit.Config{RequestsPerMinute: 6000, CreditsPerSecond: 500, CreditsPerDay: 3_000_000}, clock)
	require.NoError(t, err)
	limiter := &clockedLimiter{stack: stack, clock: clock}

	adapters := map[string]Adapter{}
	for _, name := range []string{"a", "b", "c"} {
		adapters[name] = &fakeAdapter{name: name, block: 1, inflight: &inflight, overlap: &overlap}
	}
	b := New(adapters, limiter, DefaultCosts(), nil, nil)
	startBroker(t, b)

	var wg sync.WaitGroup
	for name := range adapters {
		wg.Add(1)
		go func(client *Client) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := client.Logs(context.Background(), 1, 2); err != nil {
					t.Errorf("logs: %v", err)
					return
				}
			}
		}(b.Client(name, 5*time.Second))
	}
	wg.Wait()

	require.Len(t, limiter.log, 30)
	for _, end := range limiter.log {
		sum := 0
		for _, entry := range limiter.log {
			if !entry.at.After(end.at) && end.at.Sub(entry.at) < time.Second {
				sum += entry.cost
			}
		}
		assert.LessOrEqual(t, sum, 500)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap))
}

// hangingAdapter blocks every call until its context ends.
type hangingAdapter struct {
	calls atomic.Int32
}

func (a *hangingAdapter) LatestBlockNumber(ctx context.Context) (uint64, error) {
	a.calls.Add(1)
	<-ctx.Done()
	return 0, ctx.Err()
}

func (a *hangingAdapter) FilterLogs(ctx context.Context, _, _ uint64) ([]types.Log, error) {
	a.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCallTimeoutFreesConsumer(t *testing.T) {
	var inflight, overlap int32
	hung := &hangingAdapter{}
	b := New(map[string]Adapter{
		"amoy":    hung,
		"sepolia": &fakeAdapter{name: "sepolia", block: 42, inflight: &inflight, overlap: &overlap},
	}, &recordingLimiter{}, DefaultCosts(), nil, nil)
	b.SetCallTimeout(20 * time.Millisecond)
	startBroker(t, b)

	hungErr := make(chan error, 1)
	go func() {
		_, err := b.Client("amoy", time.Second).LastBlock(context.Background())
		hungErr <- err
	}()
	require.Eventually(t, func() bool { return hung.calls.Load() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	block, err := b.Client("sepolia", time.Second).LastBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), block)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	err = <-hungErr
	require.Error(t, err)
	assert.True(t, failure.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
