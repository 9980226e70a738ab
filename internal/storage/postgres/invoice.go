package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/storage"
)

const invoiceColumns = `id, created_at, amount::text, seller, buyer, paid_at, user_id, external_id`

// payable is the JSON stored in payments.data for platform purchases.
type payable struct {
	Subscription *struct {
		Target string    `json:"target"`
		Until  time.Time `json:"until"`
	} `json:"subscription,omitempty"`
}

// MarkPaid sets buyer and paid_at on the invoice matching id, seller and
// amount. A platform payment for the same id is marked paid in the same
// transaction and its subscription extended. An invoice that was already
// paid is returned unchanged with storage.ErrAlreadyPaid.
func (s *Store) MarkPaid(ctx context.Context, payment model.PaidPayment) (model.Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Invoice{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	seller := strings.ToLower(payment.Seller)
	buyer := strings.ToLower(payment.Buyer)
	amount := payment.Amount.String()

	invoice, err := scanInvoice(tx.QueryRow(ctx, `
		UPDATE invoice
		SET buyer = $4, paid_at = $5
		WHERE id = $1 AND lower(seller) = $2 AND amount = $3::numeric AND paid_at IS NULL
		RETURNING `+invoiceColumns,
		payment.InvoiceID, seller, amount, buyer, payment.PaidAt.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanInvoice(tx.QueryRow(ctx, `
			SELECT `+invoiceColumns+`
			FROM invoice
			WHERE id = $1 AND lower(seller) = $2 AND amount = $3::numeric
		`, payment.InvoiceID, seller, amount))
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Invoice{}, storage.ErrNotFound
		}
		if err != nil {
			return model.Invoice{}, fmt.Errorf("load invoice: %w", err)
		}
		return existing, storage.ErrAlreadyPaid
	}
	if err != nil {
		return model.Invoice{}, fmt.Errorf("update invoice: %w", err)
	}

	if err := applyPlatformPayment(ctx, tx, payment.InvoiceID, invoice.PaidAt); err != nil {
		return model.Invoice{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Invoice{}, fmt.Errorf("commit tx: %w", err)
	}
	return invoice, nil
}

func applyPlatformPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID, paidAt *time.Time) error {
	var (
		userID uuid.UUID
		data   []byte
	)
	err := tx.QueryRow(ctx, `
		UPDATE payments SET paid_at = $2
		WHERE id = $1 AND paid_at IS NULL
		RETURNING user_id, data
	`, id, paidAt).Scan(&userID, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	var p payable
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse payable: %w", err)
	}
	if p.Subscription == nil {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (user_id, target, until)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, target) DO UPDATE
		SET until = GREATEST(subscriptions.until, EXCLUDED.until)
	`, userID, p.Subscription.Target, p.Subscription.Until.UTC())
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// Subscriptions lists a user's subscriptions.
func (s *Store) Subscriptions(ctx context.Context, userID uuid.UUID) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, target, until FROM subscriptions WHERE user_id = $1 ORDER BY target
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.UserID, &sub.Target, &sub.Until); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// NotificationSettings returns the owner's enabled channels and webhook URLs.
// An unknown user has no channels.
func (s *Store) NotificationSettings(ctx context.Context, userID uuid.UUID) (model.NotificationSettings, error) {
	settings := model.NotificationSettings{UserID: userID}

	var email, chatID *string
	err := s.pool.QueryRow(ctx, `
		SELECT email, telegram_chat_id, email_notification, telegram_notification
		FROM users WHERE id = $1
	`, userID).Scan(&email, &chatID, &settings.EmailEnabled, &settings.TelegramEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("query user: %w", err)
	}
	if email != nil {
		settings.Email = *email
	}
	if chatID != nil {
		settings.TelegramChatID = *chatID
	}

	rows, err := s.pool.Query(ctx, `SELECT url FROM webhook WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return settings, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return settings, fmt.Errorf("scan webhook: %w", err)
		}
		settings.WebhookURLs = append(settings.WebhookURLs, url)
	}
	return settings, rows.Err()
}

func scanInvoice(row pgx.Row) (model.Invoice, error) {
	var (
		invoice model.Invoice
		amount  string
	)
	if err := row.Scan(
		&invoice.ID,
		&invoice.CreatedAt,
		&amount,
		&invoice.Seller,
		&invoice.Buyer,
		&invoice.PaidAt,
		&invoice.UserID,
		&invoice.ExternalID,
	); err != nil {
		return model.Invoice{}, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return model.Invoice{}, fmt.Errorf("parse amount: %w", err)
	}
	invoice.Amount = parsed
	return invoice, nil
}
