package pipeline

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"invoiceMonitor/internal/failure"
	"invoiceMonitor/internal/model"
)

// Decoder turns contract logs into PayInvoiceEvents.
type Decoder struct {
	event  abi.Event
	topic0 common.Hash
}

// NewDecoder builds a decoder that accepts logs whose topic0 equals topic0.
// A zero topic0 uses the ABI event id.
func NewDecoder(topic0 common.Hash) (*Decoder, error) {
	parsed, err := PayInvoiceABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	event, ok := parsed.Events["PayInvoiceEvent"]
	if !ok {
		return nil, fmt.Errorf("abi has no PayInvoiceEvent")
	}
	if topic0 == (common.Hash{}) {
		topic0 = event.ID
	}
	return &Decoder{event: event, topic0: topic0}, nil
}

// Topic returns the topic0 the decoder accepts.
func (d *Decoder) Topic() common.Hash {
	return d.topic0
}

// Decode parses log. Every failure is permanent: a malformed log never
// becomes well formed.
func (d *Decoder) Decode(network string, log types.Log) (model.PayInvoiceEvent, error) {
	event, err := d.decode(log)
	if err != nil {
		return model.PayInvoiceEvent{}, failure.NewPermanent("decode log", err)
	}
	event.LogPosition = model.LogPosition{
		Network:     network,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
	}
	return event, nil
}

func (d *Decoder) decode(log types.Log) (model.PayInvoiceEvent, error) {
	if len(log.Topics) == 0 {
		return model.PayInvoiceEvent{}, fmt.Errorf("missing topics")
	}
	if log.Topics[0] != d.topic0 {
		return model.PayInvoiceEvent{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	indexed := indexedArguments(d.event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return model.PayInvoiceEvent{}, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}

	var parties struct {
		Seller common.Address
		Payer  common.Address
	}
	if err := abi.ParseTopics(&parties, indexed, log.Topics[1:]); err != nil {
		return model.PayInvoiceEvent{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := d.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.PayInvoiceEvent{}, fmt.Errorf("unpack %s: %w", d.event.Name, err)
	}
	if len(values) != 3 {
		return model.PayInvoiceEvent{}, fmt.Errorf("unexpected event values: %d", len(values))
	}

	invoiceID, ok := values[0].(string)
	if !ok {
		return model.PayInvoiceEvent{}, fmt.Errorf("unsupported invoice id type %T", values[0])
	}
	paidAt, err := asBigInt(values[1])
	if err != nil {
		return model.PayInvoiceEvent{}, fmt.Errorf("paid at: %w", err)
	}
	amount, err := asBigInt(values[2])
	if err != nil {
		return model.PayInvoiceEvent{}, fmt.Errorf("amount: %w", err)
	}

	return model.PayInvoiceEvent{
		InvoiceID: invoiceID,
		Seller:    parties.Seller,
		Payer:     parties.Payer,
		PaidAt:    paidAt,
		Amount:    amount,
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported integer type %T", value)
	}
}
