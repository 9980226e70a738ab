package monitor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/pipeline"
)

// DeadLetterQueue lists and resolves stored dead letters.
type DeadLetterQueue interface {
	PendingDeadLetters(ctx context.Context, network string, limit int) ([]model.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id int64) error
}

// Processor applies one log.
type Processor interface {
	Process(ctx context.Context, network string, log types.Log) (pipeline.Outcome, error)
}

// ReplaySummary counts what a replay did.
type ReplaySummary struct {
	Total    int
	Applied  int
	Resolved int
	Failed   int
}

// Replay runs pending dead letters through processor again. Letters that
// now apply, or whose invoice was paid meanwhile, are resolved; the rest
// stay pending.
func Replay(ctx context.Context, queue DeadLetterQueue, processor Processor, network string, limit int, logger *zap.Logger) (ReplaySummary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	letters, err := queue.PendingDeadLetters(ctx, network, limit)
	if err != nil {
		return ReplaySummary{}, fmt.Errorf("load dead letters: %w", err)
	}

	var summary ReplaySummary
	for _, letter := range letters {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++

		fields := []zap.Field{
			zap.Int64("id", letter.ID),
			zap.String("network", letter.Network),
			zap.Uint64("block_number", letter.Record.BlockNumber),
			zap.String("tx_hash", letter.Record.TxHash),
		}

		log, err := letter.Record.ToLog()
		if err != nil {
			summary.Failed++
			logger.Warn("dead letter has an unreadable log", append(fields, zap.Error(err))...)
			continue
		}

		outcome, err := processor.Process(ctx, letter.Network, log)
		if err != nil {
			summary.Failed++
			logger.Warn("replay failed", append(fields, zap.String("outcome", string(outcome)), zap.Error(err))...)
			continue
		}
		if outcome == pipeline.OutcomeApplied {
			summary.Applied++
		}

		if err := queue.ResolveDeadLetter(ctx, letter.ID); err != nil {
			return summary, err
		}
		summary.Resolved++
		logger.Info("dead letter resolved", append(fields, zap.String("outcome", string(outcome)))...)
	}
	return summary, nil
}
