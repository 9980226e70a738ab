// Package notify tells invoice owners that an invoice was paid.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"invoiceMonitor/internal/model"
)

// Channel names used in logs and metrics.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelWebhook  = "webhook"
)

// Message is what every channel renders.
type Message struct {
	Invoice  model.Invoice
	Position model.LogPosition
	URL      string
}

// Notifier delivers a Message on one channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, msg Message) error
}

// InvoiceURL is the public page of an invoice.
func InvoiceURL(baseURL string, invoice model.Invoice) string {
	return strings.TrimRight(baseURL, "/") + "/invoices/" + invoice.ID.String()
}

func checkStatus(resp *http.Response, what string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: status=%d body=%q", what, resp.StatusCode, strings.TrimSpace(string(body)))
}
