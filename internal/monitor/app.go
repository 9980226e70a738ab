// Package monitor wires the broker, pollers, pipeline and notifiers into
// one long running service.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"invoiceMonitor/internal/broker"
	"invoiceMonitor/internal/metrics"
	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/notify"
	"invoiceMonitor/internal/pipeline"
	"invoiceMonitor/internal/poller"
	"invoiceMonitor/internal/ratelimit"
	"invoiceMonitor/internal/storage"
)

// Options are the plain settings of an App.
type Options struct {
	Networks        []model.Network
	Topic0          common.Hash
	Limits          ratelimit.Config
	Costs           broker.Costs
	RPCTimeout      time.Duration
	ResponseTimeout time.Duration
	RetryDelay      time.Duration
	PollInterval    time.Duration
	BatchSize       uint64
	AmountDecimals  int32
	MetricsAddr     string
}

// Dependencies are the already built collaborators of an App. Adapters is
// keyed by network name; networks without an adapter are not polled.
type Dependencies struct {
	Clock       ratelimit.Clock
	Adapters    map[string]broker.Adapter
	Checkpoints storage.CheckpointStore
	Invoices    storage.InvoiceStore
	DeadLetters storage.DeadLetterSink
	Fanout      *notify.Fanout
}

// App runs one poller per network against a shared broker.
type App struct {
	opts    Options
	broker  *broker.Broker
	pollers []*poller.Poller
	fanout  *notify.Fanout
	logger  *zap.Logger
	metrics *metrics.Metrics

	cleanup []func()
}

// New builds an App from its dependencies.
func New(opts Options, deps Dependencies, logger *zap.Logger, m *metrics.Metrics) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = ratelimit.SystemClock{}
	}
	if deps.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if deps.Invoices == nil {
		return nil, fmt.Errorf("invoice store is required")
	}

	limiter, err := ratelimit.NewStack(opts.Limits, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}
	b := broker.New(deps.Adapters, limiter, opts.Costs, logger.Named("broker"), m)
	b.SetCallTimeout(opts.RPCTimeout)

	decoder, err := pipeline.NewDecoder(opts.Topic0)
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	chainIDs := make(map[string]uint64, len(opts.Networks))
	for _, network := range opts.Networks {
		chainIDs[network.Name] = network.ChainID
	}

	var dispatcher pipeline.Dispatcher
	if deps.Fanout != nil {
		dispatcher = deps.Fanout
	}
	pipe, err := pipeline.New(pipeline.Config{AmountDecimals: opts.AmountDecimals, ChainIDs: chainIDs},
		decoder, deps.Invoices, dispatcher, deps.DeadLetters, logger.Named("pipeline"), m)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	app := &App{
		opts:    opts,
		broker:  b,
		fanout:  deps.Fanout,
		logger:  logger,
		metrics: m,
	}
	for _, network := range opts.Networks {
		if _, ok := deps.Adapters[network.Name]; !ok {
			logger.Warn("network has no adapter, skipping", zap.String("network", network.Name))
			continue
		}
		app.pollers = append(app.pollers, poller.New(poller.Config{
			Network:      network.Name,
			BatchSize:    opts.BatchSize,
			RetryDelay:   opts.RetryDelay,
			PollInterval: opts.PollInterval,
		}, b.Client(network.Name, opts.ResponseTimeout), deps.Checkpoints, pipe, logger.Named("poller"), m))
	}
	if len(app.pollers) == 0 {
		return nil, fmt.Errorf("no network could be started")
	}
	return app, nil
}

// OnClose registers fn to run after Run returns.
func (a *App) OnClose(fn func()) {
	a.cleanup = append(a.cleanup, fn)
}

// Pollers returns the running pollers in network order.
func (a *App) Pollers() []*poller.Poller {
	return a.pollers
}

// Run blocks until ctx is cancelled or the broker fails. A poller that
// stops on a non-retryable failure is logged; the other networks continue.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.broker.Run(gctx); err != nil {
			return fmt.Errorf("run broker: %w", err)
		}
		return nil
	})

	for _, p := range a.pollers {
		p := p
		g.Go(func() error {
			if err := p.Run(gctx); err != nil {
				a.logger.Error("network stopped", zap.Error(err), zap.Uint64("checkpoint", p.Checkpoint()))
			}
			return nil
		})
	}

	if a.opts.MetricsAddr != "" && a.metrics != nil {
		g.Go(func() error {
			return a.runMetricsServer(gctx)
		})
	}

	a.logger.Info("monitor start",
		zap.Int("networks", len(a.pollers)),
		zap.Int("rpm", a.opts.Limits.RequestsPerMinute),
		zap.Uint64("batch_size", a.opts.BatchSize),
	)

	err := g.Wait()
	if a.fanout != nil {
		a.fanout.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) runMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: a.opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("metrics server listening", zap.String("addr", srv.Addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			// metrics are optional; keep monitoring
			a.logger.Error("metrics server failed", zap.Error(err))
		}
		return nil
	}
}

func (a *App) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}
