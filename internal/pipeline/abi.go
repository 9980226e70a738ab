package pipeline

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DefaultEventSignature is the canonical signature of the payment event.
const DefaultEventSignature = "PayInvoiceEvent(string,address,address,uint128,uint128)"

const payInvoiceABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "string", "name": "invoiceId", "type": "string"},
      {"indexed": true, "internalType": "address", "name": "seller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "payer", "type": "address"},
      {"indexed": false, "internalType": "uint128", "name": "paidAt", "type": "uint128"},
      {"indexed": false, "internalType": "uint128", "name": "amount", "type": "uint128"}
    ],
    "name": "PayInvoiceEvent",
    "type": "event"
  }
]`

var (
	payInvoiceABI     abi.ABI
	payInvoiceABIOnce sync.Once
	payInvoiceABIErr  error
)

// PayInvoiceABI returns the parsed payment contract ABI.
func PayInvoiceABI() (abi.ABI, error) {
	payInvoiceABIOnce.Do(func() {
		payInvoiceABI, payInvoiceABIErr = abi.JSON(strings.NewReader(payInvoiceABIJSON))
	})
	return payInvoiceABI, payInvoiceABIErr
}
