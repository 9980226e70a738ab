package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LogPosition locates a log on a network.
type LogPosition struct {
	Network     string `json:"network"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
}

// PayInvoiceEvent is the decoded contract event, values as emitted on chain.
type PayInvoiceEvent struct {
	LogPosition
	InvoiceID string         `json:"invoice_id"`
	Seller    common.Address `json:"seller"`
	Payer     common.Address `json:"payer"`
	PaidAt    *big.Int       `json:"paid_at"`
	Amount    *big.Int       `json:"amount"`
}

// PaidPayment is a PayInvoiceEvent converted to storage units.
type PaidPayment struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Seller    string          `json:"seller"`
	Buyer     string          `json:"buyer"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    time.Time       `json:"paid_at"`
}
