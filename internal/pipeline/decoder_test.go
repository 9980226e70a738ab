package pipeline

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"invoiceMonitor/internal/failure"
)

var (
	testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSeller   = common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	testPayer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

const testInvoiceID = "6f1c2b8e-4a55-4d2a-9a3b-7d9b0c1e2f30"

func packPayment(t *testing.T, invoiceID string, paidAt, amount *big.Int) []byte {
	t.Helper()
	parsed, err := PayInvoiceABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	data, err := parsed.Events["PayInvoiceEvent"].Inputs.NonIndexed().Pack(invoiceID, paidAt, amount)
	if err != nil {
		t.Fatalf("pack payment: %v", err)
	}
	return data
}

func buildLog(topic0 common.Hash, data []byte, indexed ...common.Hash) types.Log {
	topics := append([]common.Hash{topic0}, indexed...)
	return types.Log{
		Address:     testContract,
		Topics:      topics,
		Data:        data,
		BlockNumber: 5_000_123,
		TxHash:      common.HexToHash("0xdef456"),
		Index:       3,
	}
}

func paymentLog(t *testing.T, invoiceID string, paidAt, amount int64) types.Log {
	t.Helper()
	topic := crypto.Keccak256Hash([]byte(DefaultEventSignature))
	data := packPayment(t, invoiceID, big.NewInt(paidAt), big.NewInt(amount))
	return buildLog(topic, data, topicFromAddress(testSeller), topicFromAddress(testPayer))
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func TestDecoderTopicMatchesSignature(t *testing.T) {
	decoder, err := NewDecoder(common.Hash{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	want := crypto.Keccak256Hash([]byte(DefaultEventSignature))
	if decoder.Topic() != want {
		t.Fatalf("topic mismatch: %s != %s", decoder.Topic().Hex(), want.Hex())
	}
}

func TestDecoderPayInvoice(t *testing.T) {
	decoder, err := NewDecoder(common.Hash{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	event, err := decoder.Decode("sepolia", paymentLog(t, testInvoiceID, 1_700_000_000, 2_000_000))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if event.InvoiceID != testInvoiceID {
		t.Fatalf("invoice id mismatch: %s", event.InvoiceID)
	}
	if event.Seller != testSeller || event.Payer != testPayer {
		t.Fatalf("address mismatch: %s %s", event.Seller.Hex(), event.Payer.Hex())
	}
	if event.PaidAt.Int64() != 1_700_000_000 || event.Amount.Int64() != 2_000_000 {
		t.Fatalf("values mismatch: %s %s", event.PaidAt, event.Amount)
	}
	if event.Network != "sepolia" || event.BlockNumber != 5_000_123 || event.LogIndex != 3 {
		t.Fatalf("position mismatch: %+v", event.LogPosition)
	}
}

func TestDecoderRejectsMalformedLogs(t *testing.T) {
	decoder, err := NewDecoder(common.Hash{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	good := paymentLog(t, testInvoiceID, 1_700_000_000, 1)

	cases := map[string]types.Log{
		"no topics":     {Data: good.Data},
		"foreign topic": buildLog(common.HexToHash("0x01"), good.Data, good.Topics[1:]...),
		"missing payer": buildLog(good.Topics[0], good.Data, good.Topics[1]),
		"short data":    buildLog(good.Topics[0], good.Data[:40], good.Topics[1:]...),
	}
	for name, log := range cases {
		_, err := decoder.Decode("sepolia", log)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !failure.IsPermanent(err) {
			t.Fatalf("%s: expected permanent failure, got %v", name, err)
		}
	}
}

func TestToPaymentScalesAmount(t *testing.T) {
	decoder, err := NewDecoder(common.Hash{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	event, err := decoder.Decode("sepolia", paymentLog(t, testInvoiceID, 1_700_000_000, 2_000_000))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	payment, err := ToPayment(event, DefaultAmountDecimals)
	if err != nil {
		t.Fatalf("to payment: %v", err)
	}
	if got := payment.Amount.StringFixed(DefaultAmountDecimals); got != "2.000000" {
		t.Fatalf("amount mismatch: %s", got)
	}
	if payment.Seller != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("seller not lowercased: %s", payment.Seller)
	}
	if payment.PaidAt.Unix() != 1_700_000_000 {
		t.Fatalf("paid at mismatch: %s", payment.PaidAt)
	}
}

func TestToPaymentRejectsInvalidValues(t *testing.T) {
	decoder, err := NewDecoder(common.Hash{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	event, err := decoder.Decode("sepolia", paymentLog(t, "not-a-uuid", 1_700_000_000, 1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := ToPayment(event, DefaultAmountDecimals); !failure.IsPermanent(err) {
		t.Fatalf("expected permanent failure for bad id, got %v", err)
	}

	event, err = decoder.Decode("sepolia", paymentLog(t, testInvoiceID, maxPaidAt+1, 1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := ToPayment(event, DefaultAmountDecimals); !failure.IsPermanent(err) {
		t.Fatalf("expected permanent failure for timestamp, got %v", err)
	}
}
