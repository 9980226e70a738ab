package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"invoiceMonitor/internal/metrics"
	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/storage"
)

// Config selects the transports available to the fanout.
type Config struct {
	WebBaseURL    string
	Mailer        *Mailer
	Telegram      *TelegramBot
	WebhookClient *http.Client
}

// Fanout resolves an owner's notifiers and runs them concurrently. A
// failing or panicking notifier never affects the others or the caller.
type Fanout struct {
	cfg      Config
	settings storage.SettingsStore
	logger   *zap.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

func NewFanout(cfg Config, settings storage.SettingsStore, logger *zap.Logger, m *metrics.Metrics) (*Fanout, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{cfg: cfg, settings: settings, logger: logger, metrics: m}, nil
}

// Dispatch starts the notifiers for invoice and returns without waiting
// for them. Invoices without an owner are skipped.
func (f *Fanout) Dispatch(ctx context.Context, invoice model.Invoice, position model.LogPosition) error {
	if invoice.UserID == nil {
		return nil
	}

	settings, err := f.settings.NotificationSettings(ctx, *invoice.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		f.logger.Warn("invoice owner not found", zap.String("user_id", invoice.UserID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notification settings: %w", err)
	}

	msg := Message{
		Invoice:  invoice,
		Position: position,
		URL:      InvoiceURL(f.cfg.WebBaseURL, invoice),
	}
	for _, notifier := range f.Resolve(settings) {
		f.run(ctx, notifier, msg)
	}
	return nil
}

// Resolve lists the notifiers settings asks for and this fanout can serve.
func (f *Fanout) Resolve(settings model.NotificationSettings) []Notifier {
	var notifiers []Notifier
	if settings.EmailEnabled && settings.Email != "" {
		if f.cfg.Mailer != nil {
			notifiers = append(notifiers, NewEmailNotifier(f.cfg.Mailer, settings.Email))
		} else {
			f.logger.Debug("email requested but mailer is not configured", zap.String("user_id", settings.UserID.String()))
		}
	}
	if settings.TelegramEnabled && settings.TelegramChatID != "" {
		if f.cfg.Telegram != nil {
			notifiers = append(notifiers, NewTelegramNotifier(f.cfg.Telegram, settings.TelegramChatID))
		} else {
			f.logger.Debug("telegram requested but bot is not configured", zap.String("user_id", settings.UserID.String()))
		}
	}
	if len(settings.WebhookURLs) > 0 {
		notifiers = append(notifiers, NewWebhookNotifier(settings.WebhookURLs, f.cfg.WebhookClient, f.logger))
	}
	return notifiers
}

// Wait blocks until every started notifier has returned.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) run(ctx context.Context, notifier Notifier, msg Message) {
	channel := notifier.Channel()
	logger := f.logger.With(
		zap.String("channel", channel),
		zap.String("invoice_id", msg.Invoice.ID.String()),
	)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				f.metrics.IncNotification(channel, "panic")
				logger.Error("notifier panicked", zap.Any("panic", r))
			}
		}()

		if err := notifier.Notify(ctx, msg); err != nil {
			f.metrics.IncNotification(channel, "error")
			logger.Error("notification failed", zap.Error(err))
			return
		}
		f.metrics.IncNotification(channel, "sent")
		logger.Info("notification sent")
	}()
}
