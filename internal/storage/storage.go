package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"invoiceMonitor/internal/model"
)

var (
	// ErrNotFound means no unpaid or paid invoice matches id, seller and amount.
	ErrNotFound = errors.New("invoice not found")
	// ErrAlreadyPaid is returned together with the stored invoice when it was paid before.
	ErrAlreadyPaid = errors.New("invoice already paid")
)

// CheckpointStore persists the last processed block per network.
type CheckpointStore interface {
	Load(ctx context.Context, network string) (uint64, bool, error)
	Save(ctx context.Context, network string, block uint64) error
}

// InvoiceStore applies payments to invoices.
type InvoiceStore interface {
	MarkPaid(ctx context.Context, payment model.PaidPayment) (model.Invoice, error)
}

// SettingsStore resolves notification preferences for an invoice owner.
type SettingsStore interface {
	NotificationSettings(ctx context.Context, userID uuid.UUID) (model.NotificationSettings, error)
}

// DeadLetterSink keeps logs that failed processing.
type DeadLetterSink interface {
	PutDeadLetter(ctx context.Context, letter model.DeadLetter) error
}
