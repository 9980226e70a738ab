package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invoiceMonitor/internal/config"
	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/pipeline"
	"invoiceMonitor/internal/poller"
)

// decodedPayment is one line of the decode output.
type decodedPayment struct {
	model.LogPosition
	ChainID   uint64 `json:"chain_id"`
	InvoiceID string `json:"invoice_id"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer"`
	Amount    string `json:"amount"`
	RawAmount string `json:"raw_amount"`
	PaidAt    string `json:"paid_at"`
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	topic0, err := poller.ParseEventTopic(cfg.EventSignature)
	if err != nil {
		return fmt.Errorf("parse event signature: %w", err)
	}
	decoder, err := pipeline.NewDecoder(topic0)
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := newJSONLWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := newJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.String("topic0", topic0.Hex()),
	)

	scanner := bufio.NewScanner(inputFile)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var total, decoded, skipped, failed int
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			writeDecodeError(logger, errWriter, model.LogRecord{}, err)
			continue
		}
		if len(record.Topics) == 0 {
			failed++
			writeDecodeError(logger, errWriter, record, fmt.Errorf("missing topic0"))
			continue
		}
		if record.Removed {
			skipped++
			continue
		}

		log, err := record.ToLog()
		if err != nil {
			failed++
			writeDecodeError(logger, errWriter, record, err)
			continue
		}
		if log.Topics[0] != decoder.Topic() {
			skipped++
			continue
		}

		payment, err := decodePayment(decoder, record, log, cfg.AmountDecimals)
		if err != nil {
			failed++
			writeDecodeError(logger, errWriter, record, err)
			continue
		}

		if err := outWriter.Write(payment); err != nil {
			return err
		}
		decoded++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	logger.Info("decode complete",
		zap.Int("total", total),
		zap.Int("decoded", decoded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func decodePayment(decoder *pipeline.Decoder, record model.LogRecord, log types.Log, decimals int32) (decodedPayment, error) {
	event, err := decoder.Decode(record.Network, log)
	if err != nil {
		return decodedPayment{}, err
	}
	payment, err := pipeline.ToPayment(event, decimals)
	if err != nil {
		return decodedPayment{}, err
	}
	return decodedPayment{
		LogPosition: event.LogPosition,
		ChainID:     record.ChainID,
		InvoiceID:   payment.InvoiceID.String(),
		Seller:      payment.Seller,
		Buyer:       payment.Buyer,
		Amount:      payment.Amount.StringFixed(decimals),
		RawAmount:   event.Amount.String(),
		PaidAt:      payment.PaidAt.Format(time.RFC3339),
	}, nil
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string, appendMode bool) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// writeDecodeError records a failed line in the dead letter format so the
// file can be inspected with the same tooling.
func writeDecodeError(logger *zap.Logger, writer *jsonlWriter, record model.LogRecord, err error) {
	if writer == nil {
		return
	}
	letter := model.DeadLetter{
		Network:   record.Network,
		Stage:     model.StageDecode,
		Error:     err.Error(),
		Record:    record,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if writeErr := writer.Write(letter); writeErr != nil {
		logger.Error("write decode error",
			zap.String("network", record.Network),
			zap.Uint64("block_number", record.BlockNumber),
			zap.String("tx_hash", record.TxHash),
			zap.String("decode_error", err.Error()),
			zap.Error(writeErr),
		)
	}
}
