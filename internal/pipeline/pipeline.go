// Package pipeline decodes payment logs, applies them to invoices and hands
// newly paid invoices to the notifier.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"invoiceMonitor/internal/metrics"
	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/storage"
)

// Outcome is the result of processing a single log.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeAlreadyPaid  Outcome = "already_paid"
	OutcomeDecodeFailed Outcome = "decode_failed"
	OutcomeApplyFailed  Outcome = "apply_failed"
)

// Dispatcher delivers notifications for an invoice that has just been paid.
type Dispatcher interface {
	Dispatch(ctx context.Context, invoice model.Invoice, position model.LogPosition) error
}

// Config holds the pipeline settings.
type Config struct {
	AmountDecimals int32
	// ChainIDs is stored in dead letters so they can be replayed by network.
	ChainIDs map[string]uint64
}

// Pipeline turns contract logs into paid invoices.
type Pipeline struct {
	cfg         Config
	decoder     *Decoder
	invoices    storage.InvoiceStore
	dispatcher  Dispatcher
	deadLetters storage.DeadLetterSink
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New builds a Pipeline. dispatcher and deadLetters may be nil.
func New(cfg Config, decoder *Decoder, invoices storage.InvoiceStore, dispatcher Dispatcher, deadLetters storage.DeadLetterSink, logger *zap.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if invoices == nil {
		return nil, fmt.Errorf("invoice store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AmountDecimals < 0 {
		return nil, fmt.Errorf("amount decimals must not be negative")
	}
	return &Pipeline{
		cfg:         cfg,
		decoder:     decoder,
		invoices:    invoices,
		dispatcher:  dispatcher,
		deadLetters: deadLetters,
		logger:      logger,
		metrics:     m,
	}, nil
}

// HandleLog processes log and records failures as dead letters. A failing
// log never blocks the logs after it.
func (p *Pipeline) HandleLog(ctx context.Context, network string, log types.Log) {
	outcome, err := p.Process(ctx, network, log)
	p.metrics.IncEvent(network, string(outcome))
	if err == nil {
		return
	}

	fields := []zap.Field{
		zap.String("network", network),
		zap.Uint64("block_number", log.BlockNumber),
		zap.String("tx_hash", log.TxHash.Hex()),
		zap.Uint("log_index", log.Index),
		zap.Error(err),
	}
	stage := model.StageApply
	if outcome == OutcomeDecodeFailed {
		stage = model.StageDecode
	}
	p.logger.Error("process log failed", append(fields, zap.String("stage", stage))...)
	p.deadLetter(ctx, network, stage, log, err)
}

// Process decodes log and applies the payment. Redelivered logs report
// OutcomeAlreadyPaid and are not dispatched again.
func (p *Pipeline) Process(ctx context.Context, network string, log types.Log) (Outcome, error) {
	event, err := p.decoder.Decode(network, log)
	if err != nil {
		return OutcomeDecodeFailed, err
	}

	payment, err := ToPayment(event, p.cfg.AmountDecimals)
	if err != nil {
		return OutcomeDecodeFailed, err
	}

	invoice, err := p.invoices.MarkPaid(ctx, payment)
	if errors.Is(err, storage.ErrAlreadyPaid) {
		p.logger.Info("invoice already paid",
			zap.String("network", network),
			zap.String("invoice_id", payment.InvoiceID.String()),
			zap.String("tx_hash", event.TxHash),
		)
		return OutcomeAlreadyPaid, nil
	}
	if err != nil {
		return OutcomeApplyFailed, fmt.Errorf("mark invoice %s paid: %w", payment.InvoiceID, err)
	}

	p.logger.Info("invoice paid",
		zap.String("network", network),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("amount", payment.Amount.StringFixed(p.cfg.AmountDecimals)),
		zap.String("buyer", payment.Buyer),
		zap.String("tx_hash", event.TxHash),
	)

	if p.dispatcher != nil {
		if err := p.dispatcher.Dispatch(ctx, invoice, event.LogPosition); err != nil {
			p.logger.Warn("dispatch notifications failed", zap.String("invoice_id", invoice.ID.String()), zap.Error(err))
		}
	}
	return OutcomeApplied, nil
}

func (p *Pipeline) deadLetter(ctx context.Context, network, stage string, log types.Log, cause error) {
	if p.deadLetters == nil {
		return
	}
	letter := model.DeadLetter{
		Network:   network,
		Stage:     stage,
		Error:     cause.Error(),
		Record:    model.NewLogRecord(network, p.cfg.ChainIDs[network], log),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.deadLetters.PutDeadLetter(ctx, letter); err != nil {
		p.logger.Error("write dead letter failed", zap.String("network", network), zap.Error(err))
		return
	}
	p.metrics.IncDeadLetter(stage)
}
