package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const webhookEvent = "invoice.paid"

type webhookPayload struct {
	Event       string  `json:"event"`
	InvoiceID   string  `json:"invoice_id"`
	ExternalID  *string `json:"external_id,omitempty"`
	Amount      string  `json:"amount"`
	Seller      string  `json:"seller"`
	Buyer       *string `json:"buyer,omitempty"`
	PaidAt      string  `json:"paid_at,omitempty"`
	Network     string  `json:"network"`
	TxHash      string  `json:"tx_hash"`
	BlockNumber uint64  `json:"block_number"`
	LogIndex    uint64  `json:"log_index"`
	URL         string  `json:"url"`
}

// WebhookNotifier posts the payment to every registered URL in turn.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
	logger *zap.Logger
}

func NewWebhookNotifier(urls []string, client *http.Client, logger *zap.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{urls: urls, client: client, logger: logger}
}

func (n *WebhookNotifier) Channel() string { return ChannelWebhook }

// Notify keeps going after a failed URL and returns every failure joined.
func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(newWebhookPayload(msg))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var errs []error
	for _, url := range n.urls {
		if err := n.post(ctx, url, body); err != nil {
			n.logger.Warn("webhook delivery failed", zap.String("url", url), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		n.logger.Debug("webhook delivered", zap.String("url", url))
	}
	return errors.Join(errs...)
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "post webhook")
}

func newWebhookPayload(msg Message) webhookPayload {
	invoice := msg.Invoice
	payload := webhookPayload{
		Event:       webhookEvent,
		InvoiceID:   invoice.ID.String(),
		ExternalID:  invoice.ExternalID,
		Amount:      invoice.Amount.String(),
		Seller:      invoice.Seller,
		Buyer:       invoice.Buyer,
		Network:     msg.Position.Network,
		TxHash:      msg.Position.TxHash,
		BlockNumber: msg.Position.BlockNumber,
		LogIndex:    msg.Position.LogIndex,
		URL:         msg.URL,
	}
	if invoice.PaidAt != nil {
		payload.PaidAt = invoice.PaidAt.UTC().Format(time.RFC3339)
	}
	return payload
}
