package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice is a payment request owned by the API. The monitor only moves it
// from unpaid to paid.
type Invoice struct {
	ID         uuid.UUID       `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Amount     decimal.Decimal `json:"amount"`
	Seller     string          `json:"seller"`
	Buyer      *string         `json:"buyer,omitempty"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	ExternalID *string         `json:"external_id,omitempty"`
}

func (i Invoice) Paid() bool {
	return i.PaidAt != nil
}

// NotificationSettings lists the channels an invoice owner wants to hear on.
type NotificationSettings struct {
	UserID          uuid.UUID
	Email           string
	EmailEnabled    bool
	TelegramChatID  string
	TelegramEnabled bool
	WebhookURLs     []string
}

// Subscription is a platform subscription extended by paying its invoice.
type Subscription struct {
	UserID uuid.UUID `json:"user_id"`
	Target string    `json:"target"`
	Until  time.Time `json:"until"`
}
