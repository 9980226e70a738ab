package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/storage"
)

// setupTestStore starts a Postgres container and applies the embedded migrations.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	// Migrations are idempotent.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func seedUser(t *testing.T, s *Store, email string, emailOn bool, chatID string, telegramOn bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	var emailArg, chatArg *string
	if email != "" {
		emailArg = &email
	}
	if chatID != "" {
		chatArg = &chatID
	}
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO users (id, email, telegram_chat_id, email_notification, telegram_notification)
		VALUES ($1, $2, $3, $4, $5)
	`, id, emailArg, chatArg, emailOn, telegramOn)
	require.NoError(t, err)
	return id
}

func seedInvoice(t *testing.T, s *Store, seller string, amount string, userID *uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := s.pool.QueryRow(context.Background(), `
		INSERT INTO invoice (amount, seller, user_id) VALUES ($1::numeric, $2, $3) RETURNING id
	`, amount, seller, userID).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestCheckpointLoadSave(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "sepolia")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "sepolia", 100))
	require.NoError(t, store.Save(ctx, "sepolia", 105))
	require.NoError(t, store.Save(ctx, "sepolia", 103))

	block, ok, err := store.Load(ctx, "sepolia")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(105), block, "checkpoint never moves backwards")

	_, ok, err = store.Load(ctx, "polygon")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, store, "seller@example.com", true, "", false)
	id := seedInvoice(t, store, "0xAbCdEf0000000000000000000000000000000001", "2", &owner)

	paidAt := time.Unix(1700000000, 0).UTC()
	payment := model.PaidPayment{
		InvoiceID: id,
		Seller:    "0xabcdef0000000000000000000000000000000001",
		Buyer:     "0x00000000000000000000000000000000000000BB",
		Amount:    decimal.RequireFromString("2.000000"),
		PaidAt:    paidAt,
	}

	invoice, err := store.MarkPaid(ctx, payment)
	require.NoError(t, err)
	require.NotNil(t, invoice.PaidAt)
	assert.True(t, invoice.PaidAt.Equal(paidAt))
	require.NotNil(t, invoice.Buyer)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", *invoice.Buyer)
	require.NotNil(t, invoice.UserID)
	assert.Equal(t, owner, *invoice.UserID)
	assert.True(t, invoice.Amount.Equal(decimal.NewFromInt(2)))

	again := payment
	again.PaidAt = paidAt.Add(time.Hour)
	invoice, err = store.MarkPaid(ctx, again)
	assert.ErrorIs(t, err, storage.ErrAlreadyPaid)
	require.NotNil(t, invoice.PaidAt)
	assert.True(t, invoice.PaidAt.Equal(paidAt), "paid-at is not overwritten")
}

func TestMarkPaidNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id := seedInvoice(t, store, "0xabcdef0000000000000000000000000000000001", "5", nil)

	_, err := store.MarkPaid(ctx, model.PaidPayment{
		InvoiceID: id,
		Seller:    "0xabcdef0000000000000000000000000000000001",
		Buyer:     "0xbb",
		Amount:    decimal.RequireFromString("4.999999"),
		PaidAt:    time.Now().UTC(),
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkPaidExtendsSubscription(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "", false, "", false)
	id := seedInvoice(t, store, "0xabcdef0000000000000000000000000000000001", "10", nil)
	until := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.pool.Exec(ctx, `INSERT INTO payments (id, user_id, data) VALUES ($1, $2, $3)`,
		id, user, []byte(`{"subscription":{"target":"api","until":"2025-06-01T00:00:00Z"}}`))
	require.NoError(t, err)

	_, err = store.MarkPaid(ctx, model.PaidPayment{
		InvoiceID: id,
		Seller:    "0xabcdef0000000000000000000000000000000001",
		Buyer:     "0xbb",
		Amount:    decimal.NewFromInt(10),
		PaidAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	subs, err := store.Subscriptions(ctx, user)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "api", subs[0].Target)
	assert.True(t, subs[0].Until.Equal(until))
}

func TestNotificationSettings(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "owner@example.com", true, "42", false)
	for _, url := range []string{"https://a.example/hook", "https://b.example/hook"} {
		_, err := store.pool.Exec(ctx, `INSERT INTO webhook (url, user_id) VALUES ($1, $2)`, url, user)
		require.NoError(t, err)
	}

	settings, err := store.NotificationSettings(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", settings.Email)
	assert.True(t, settings.EmailEnabled)
	assert.Equal(t, "42", settings.TelegramChatID)
	assert.False(t, settings.TelegramEnabled)
	assert.Equal(t, []string{"https://a.example/hook", "https://b.example/hook"}, settings.WebhookURLs)

	unknown, err := store.NotificationSettings(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, unknown.WebhookURLs)
	assert.False(t, unknown.EmailEnabled)
}

func TestDeadLetters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, network := range []string{"sepolia", "polygon"} {
		require.NoError(t, store.PutDeadLetter(ctx, model.DeadLetter{
			Network: network,
			Stage:   model.StageApply,
			Error:   "connection reset",
			Record:  model.LogRecord{Network: network, BlockNumber: 7, Topics: []string{"0x01"}},
		}))
	}

	pending, err := store.PendingDeadLetters(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(7), pending[0].Record.BlockNumber)

	require.NoError(t, store.ResolveDeadLetter(ctx, pending[0].ID))

	pending, err = store.PendingDeadLetters(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "polygon", pending[0].Network)

	pending, err = store.PendingDeadLetters(ctx, "sepolia", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
