package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"invoiceMonitor/internal/config"
	"invoiceMonitor/internal/metrics"
	"invoiceMonitor/internal/monitor"
)

func main() {
	root := &cobra.Command{
		Use:          "monitor",
		Short:        "On-chain invoice payment monitor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Watch every configured network and apply payments",
		RunE:  runMonitor,
	}

	runCmd.Flags().String("networks", "", `networks as JSON, e.g. [{"name":"sepolia","id":11155111,"link":"https://...","contract":"0x..."}]`)
	runCmd.Flags().String("event-signature", "PayInvoiceEvent(string,address,address,uint128,uint128)", "payment event signature or topic0 hash")
	runCmd.Flags().Int("rpm", 60, "self-imposed RPC requests per minute")
	runCmd.Flags().Int("credits-per-second", 500, "provider credits per second")
	runCmd.Flags().Int("credits-per-day", 3_000_000, "provider credits per day")
	runCmd.Flags().Int("cost-block-number", 80, "credit cost of eth_blockNumber")
	runCmd.Flags().Int("cost-logs", 255, "credit cost of eth_getLogs")
	runCmd.Flags().Duration("rpc-timeout", 30*time.Second, "timeout of a single RPC call")
	runCmd.Flags().Duration("response-timeout", 5*time.Minute, "how long a poller waits for the broker")
	runCmd.Flags().Duration("retry-delay", time.Second, "delay between retries of a failed RPC call")
	runCmd.Flags().Duration("poll-interval", 0, "pause between poll cycles")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per eth_getLogs call")
	runCmd.Flags().Int32("amount-decimals", 6, "decimals of on-chain amounts")
	runCmd.Flags().String("checkpoint-backend", config.CheckpointPostgres, "checkpoint backend (file, postgres, redis)")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path (file backend)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().Bool("migrate", false, "apply database migrations on start")
	runCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (redis backend)")
	runCmd.Flags().String("redis-password", "", "Redis password")
	runCmd.Flags().Int("redis-db", 0, "Redis database")
	runCmd.Flags().String("redis-prefix", "monitor:checkpoint:", "Redis checkpoint key prefix")
	runCmd.Flags().String("dead-letter", config.DeadLetterPostgres, "dead letter sink (none, postgres, jsonl, kafka)")
	runCmd.Flags().String("dead-letter-path", "./data/dead_letters.jsonl", "dead letter file (jsonl sink)")
	runCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers (comma-separated)")
	runCmd.Flags().String("kafka-topic", "invoice-monitor.dead-letters", "Kafka dead letter topic")
	runCmd.Flags().String("web-base-url", "", "public web URL used in notification links")
	runCmd.Flags().String("brevo-api-key", "", "Brevo API key for email notifications")
	runCmd.Flags().String("email-sender", "", "sender address of notification emails")
	runCmd.Flags().String("telegram-token", "", "Telegram bot token")
	runCmd.Flags().Float64("telegram-rps", 25, "Telegram messages per second")
	runCmd.Flags().Duration("webhook-timeout", 10*time.Second, "timeout of a webhook delivery")
	runCmd.Flags().String("metrics-addr", ":9090", "Prometheus listen address, empty disables")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw payment logs from a JSONL file",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/payments.jsonl", "output decoded payments JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("event-signature", "PayInvoiceEvent(string,address,address,uint128,uint128)", "payment event signature or topic0 hash")
	decodeCmd.Flags().Int32("amount-decimals", 6, "decimals of on-chain amounts")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Reprocess pending dead letters",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	replayCmd.Flags().String("dead-letter-path", "", "replay a JSONL dead letter file instead of the Postgres queue")
	replayCmd.Flags().String("network", "", "only replay this network")
	replayCmd.Flags().Int("limit", 100, "maximum dead letters to replay")
	replayCmd.Flags().String("event-signature", "PayInvoiceEvent(string,address,address,uint128,uint128)", "payment event signature or topic0 hash")
	replayCmd.Flags().Int32("amount-decimals", 6, "decimals of on-chain amounts")
	replayCmd.Flags().Bool("notify", true, "notify owners of invoices paid by the replay")
	replayCmd.Flags().String("web-base-url", "", "public web URL used in notification links")
	replayCmd.Flags().String("brevo-api-key", "", "Brevo API key for email notifications")
	replayCmd.Flags().String("email-sender", "", "sender address of notification emails")
	replayCmd.Flags().String("telegram-token", "", "Telegram bot token")
	replayCmd.Flags().Float64("telegram-rps", 25, "Telegram messages per second")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.NewMetrics("invoice_monitor")
	}

	app, err := monitor.Build(ctx, cfg, logger, m)
	if err != nil {
		return err
	}

	logger.Info("config loaded",
		zap.Int("networks", len(cfg.Networks)),
		zap.String("event_signature", cfg.EventSignature),
		zap.String("checkpoint_backend", cfg.CheckpointBackend),
		zap.String("dead_letter", cfg.DeadLetter),
		zap.Duration("rpc_timeout", cfg.RPCTimeout),
		zap.Uint64("batch_size", cfg.BatchSize),
	)

	return app.Run(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
