// Package poller follows one network's chain head and feeds new contract
// logs to the event pipeline, persisting progress as a checkpoint.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"invoiceMonitor/internal/failure"
	"invoiceMonitor/internal/metrics"
	"invoiceMonitor/internal/storage"
)

// Source answers chain queries for one network. The broker client implements it.
type Source interface {
	LastBlock(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, from, to uint64) ([]types.Log, error)
}

// Handler consumes one log. It owns its own failure handling.
type Handler interface {
	HandleLog(ctx context.Context, network string, log types.Log)
}

// Config holds runtime settings for a poller.
type Config struct {
	Network      string
	BatchSize    uint64
	RetryDelay   time.Duration
	PollInterval time.Duration
}

// Poller is the sole writer of its network's checkpoint.
type Poller struct {
	cfg         Config
	source      Source
	checkpoints storage.CheckpointStore
	handler     Handler
	logger      *zap.Logger
	metrics     *metrics.Metrics

	checkpoint uint64
}

// New builds a Poller with its dependencies.
func New(cfg Config, source Source, checkpoints storage.CheckpointStore, handler Handler, logger *zap.Logger, m *metrics.Metrics) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Poller{
		cfg:         cfg,
		source:      source,
		checkpoints: checkpoints,
		handler:     handler,
		logger:      logger.With(zap.String("network", cfg.Network)),
		metrics:     m,
	}
}

// Checkpoint returns the last block persisted by this poller.
func (p *Poller) Checkpoint() uint64 {
	return p.checkpoint
}

// Run bootstraps the checkpoint and polls until ctx is done. It returns an
// error only for non-retryable failures.
func (p *Poller) Run(ctx context.Context) error {
	if p.source == nil {
		return failure.NewFatal("poller", fmt.Errorf("source is nil"))
	}
	if p.checkpoints == nil {
		return failure.NewFatal("poller", fmt.Errorf("checkpoint store is nil"))
	}
	if p.handler == nil {
		return failure.NewFatal("poller", fmt.Errorf("handler is nil"))
	}
	if p.cfg.BatchSize == 0 {
		return failure.NewFatal("poller", fmt.Errorf("batch size must be greater than zero"))
	}

	if err := p.init(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		err := p.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if !failure.IsRetryable(err) {
				p.logger.Error("poller stopped", zap.Error(err))
				return err
			}
			p.metrics.IncCycle(p.cfg.Network, "error")
			p.logger.Warn("poll cycle failed", zap.Error(err), zap.Uint64("checkpoint", p.checkpoint))
			if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
				return nil
			}
			continue
		}
		if p.cfg.PollInterval > 0 {
			if err := sleep(ctx, p.cfg.PollInterval); err != nil {
				return nil
			}
		}
	}
}

func (p *Poller) init(ctx context.Context) error {
	var (
		block uint64
		found bool
	)
	err := retryForever(ctx, p.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		block, found, err = p.checkpoints.Load(ctx, p.cfg.Network)
		if err != nil {
			p.logger.Warn("load checkpoint failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	if found {
		p.checkpoint = block
		p.metrics.SetCheckpoint(p.cfg.Network, block)
		p.logger.Info("resume from checkpoint", zap.Uint64("last_processed", block))
		return nil
	}

	latest, err := p.lastBlock(ctx)
	if err != nil {
		return err
	}
	err = retryForever(ctx, p.cfg.RetryDelay, func(ctx context.Context) error {
		err := p.checkpoints.Save(ctx, p.cfg.Network, latest)
		if err != nil {
			p.logger.Warn("save bootstrap checkpoint failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("save bootstrap checkpoint: %w", err)
	}

	p.checkpoint = latest
	p.metrics.SetCheckpoint(p.cfg.Network, latest)
	p.logger.Info("bootstrap checkpoint", zap.Uint64("block", latest))
	return nil
}

// cycle processes every block between the checkpoint and the chain head.
func (p *Poller) cycle(ctx context.Context) error {
	latest, err := p.lastBlock(ctx)
	if err != nil {
		return err
	}

	ranges, err := PendingRanges(p.checkpoint, latest, p.cfg.BatchSize)
	if err != nil {
		return failure.NewFatal("split range", err)
	}
	if len(ranges) == 0 {
		p.metrics.IncCycle(p.cfg.Network, "idle")
		return nil
	}

	for _, blockRange := range ranges {
		p.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := p.logs(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return err
		}

		handled := 0
		for _, log := range logs {
			if log.Removed {
				continue
			}
			p.handler.HandleLog(ctx, p.cfg.Network, log)
			handled++
		}

		if err := p.checkpoints.Save(ctx, p.cfg.Network, blockRange.To); err != nil {
			return failure.NewRetryable("save checkpoint", err)
		}
		p.checkpoint = blockRange.To
		p.metrics.SetCheckpoint(p.cfg.Network, blockRange.To)

		p.logger.Info("batch complete",
			zap.Int("logs", handled),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}

	p.metrics.IncCycle(p.cfg.Network, "advanced")
	return nil
}

func (p *Poller) lastBlock(ctx context.Context) (uint64, error) {
	var latest uint64
	err := retryForever(ctx, p.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		latest, err = p.source.LastBlock(ctx)
		if err != nil {
			p.logger.Warn("get last block failed", zap.Error(err))
		}
		return err
	})
	return latest, err
}

func (p *Poller) logs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	err := retryForever(ctx, p.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		logs, err = p.source.Logs(ctx, from, to)
		if err != nil {
			p.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
		}
		return err
	})
	return logs, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
