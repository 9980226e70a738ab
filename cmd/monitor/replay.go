package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invoiceMonitor/internal/config"
	"invoiceMonitor/internal/monitor"
	"invoiceMonitor/internal/notify"
	"invoiceMonitor/internal/pipeline"
	"invoiceMonitor/internal/poller"
	"invoiceMonitor/internal/storage"
	"invoiceMonitor/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	topic0, err := poller.ParseEventTopic(cfg.EventSignature)
	if err != nil {
		return fmt.Errorf("parse event signature: %w", err)
	}
	decoder, err := pipeline.NewDecoder(topic0)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	var fanout *notify.Fanout
	var dispatcher pipeline.Dispatcher
	if cfg.Notify {
		fanout, err = notify.NewFanout(replayNotifyConfig(cfg, logger), store, logger.Named("notify"), nil)
		if err != nil {
			return err
		}
		dispatcher = fanout
	}

	pipe, err := pipeline.New(pipeline.Config{AmountDecimals: cfg.AmountDecimals}, decoder, store, dispatcher, nil, logger.Named("pipeline"), nil)
	if err != nil {
		return err
	}

	logger.Info("replay start",
		zap.String("network", cfg.Network),
		zap.String("dead_letter_path", cfg.DeadLetterPath),
		zap.Int("limit", cfg.Limit),
		zap.Bool("notify", cfg.Notify),
	)

	var queue monitor.DeadLetterQueue = store
	var jsonlQueue *storage.JsonlDeadLetterQueue
	if cfg.DeadLetterPath != "" {
		jsonlQueue, err = storage.OpenJsonlDeadLetterQueue(cfg.DeadLetterPath)
		if err != nil {
			return err
		}
		queue = jsonlQueue
	}

	summary, err := monitor.Replay(ctx, queue, pipe, cfg.Network, cfg.Limit, logger)
	if fanout != nil {
		fanout.Wait()
	}
	if jsonlQueue != nil && summary.Resolved > 0 {
		if flushErr := jsonlQueue.Flush(); flushErr != nil {
			return flushErr
		}
	}
	if err != nil {
		return err
	}

	logger.Info("replay complete",
		zap.Int("total", summary.Total),
		zap.Int("applied", summary.Applied),
		zap.Int("resolved", summary.Resolved),
		zap.Int("failed", summary.Failed),
	)
	return nil
}

func replayNotifyConfig(cfg config.ReplayConfig, logger *zap.Logger) notify.Config {
	out := notify.Config{WebBaseURL: cfg.WebBaseURL, WebhookClient: &http.Client{}}
	if cfg.BrevoAPIKey != "" {
		if mailer, err := notify.NewMailer(cfg.BrevoAPIKey, cfg.EmailSender, "", nil); err != nil {
			logger.Warn("email notifications disabled", zap.Error(err))
		} else {
			out.Mailer = mailer
		}
	}
	if cfg.TelegramToken != "" {
		if bot, err := notify.NewTelegramBot(cfg.TelegramToken, "", cfg.TelegramRPS, nil); err != nil {
			logger.Warn("telegram notifications disabled", zap.Error(err))
		} else {
			out.Telegram = bot
		}
	}
	return out
}
