package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	brevoBaseURL   = "https://api.brevo.com/v3/smtp/email"
	paidSubject    = "Your Invoice Has Been Paid"
	paidEmailTag   = "InvoiceNotification"
	defaultTimeout = 10 * time.Second
)

// Mailer sends transactional email through the Brevo API.
type Mailer struct {
	apiKey  string
	sender  string
	baseURL string
	client  *http.Client
}

type brevoAddress struct {
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	TextContent string         `json:"textContent"`
	Subject     string         `json:"subject"`
	Tags        []string       `json:"tags"`
}

// NewMailer creates a Brevo client. An empty baseURL uses the public endpoint.
func NewMailer(apiKey, sender, baseURL string, client *http.Client) (*Mailer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("brevo api key is required")
	}
	if sender == "" {
		return nil, fmt.Errorf("email sender is required")
	}
	if baseURL == "" {
		baseURL = brevoBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Mailer{apiKey: apiKey, sender: sender, baseURL: baseURL, client: client}, nil
}

// SendInvoicePaid mails recipient a link to the paid invoice.
func (m *Mailer) SendInvoicePaid(ctx context.Context, recipient, invoiceURL string) error {
	body, err := json.Marshal(brevoRequest{
		Sender: brevoAddress{Email: m.sender},
		To:     []brevoAddress{{Email: recipient}},
		TextContent: fmt.Sprintf("Hello, \n\nYour invoice has been successfully paid. "+
			"You can view the invoice at the following link: %s\n\nBest regards, \nCryoPay", invoiceURL),
		Subject: paidSubject,
		Tags:    []string{paidEmailTag},
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", m.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "send notification email")
}

// EmailNotifier mails one recipient.
type EmailNotifier struct {
	mailer *Mailer
	email  string
}

func NewEmailNotifier(mailer *Mailer, email string) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, email: email}
}

func (n *EmailNotifier) Channel() string { return ChannelEmail }

func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	return n.mailer.SendInvoicePaid(ctx, n.email, msg.URL)
}
