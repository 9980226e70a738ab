package pipeline

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoiceMonitor/internal/failure"
	"invoiceMonitor/internal/model"
)

// DefaultAmountDecimals is the on-chain fixed-point scale (micro-units).
const DefaultAmountDecimals = 6

// maxPaidAt is 9999-12-31T23:59:59Z.
const maxPaidAt = 253402300799

// ToPayment converts a decoded event into storage units. Out of range
// values are permanent failures.
func ToPayment(event model.PayInvoiceEvent, amountDecimals int32) (model.PaidPayment, error) {
	invoiceID, err := uuid.Parse(event.InvoiceID)
	if err != nil {
		return model.PaidPayment{}, failure.NewPermanent("parse invoice id", err)
	}

	paidAt, err := paidAtTime(event.PaidAt)
	if err != nil {
		return model.PaidPayment{}, failure.NewPermanent("convert paid at", err)
	}

	if event.Amount == nil || event.Amount.Sign() < 0 {
		return model.PaidPayment{}, failure.NewPermanent("convert amount", fmt.Errorf("invalid amount"))
	}

	return model.PaidPayment{
		InvoiceID: invoiceID,
		Seller:    canonicalAddress(event.Seller.Hex()),
		Buyer:     canonicalAddress(event.Payer.Hex()),
		Amount:    decimal.NewFromBigInt(event.Amount, -amountDecimals),
		PaidAt:    paidAt,
	}, nil
}

func paidAtTime(value *big.Int) (time.Time, error) {
	if value == nil {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if value.Sign() < 0 || !value.IsInt64() || value.Int64() > maxPaidAt {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", value.String())
	}
	return time.Unix(value.Int64(), 0).UTC(), nil
}

func canonicalAddress(hex string) string {
	return strings.ToLower(hex)
}
