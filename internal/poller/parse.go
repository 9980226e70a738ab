package poller

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseAddress converts a hex contract address into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseEventTopic accepts either a 32-byte topic hash or a canonical event
// signature such as "PayInvoice(string,address,address,uint128,uint128)".
func ParseEventTopic(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Hash{}, fmt.Errorf("event signature is required")
	}

	if strings.HasPrefix(input, "0x") {
		data, err := hexutil.Decode(input)
		if err != nil {
			return common.Hash{}, fmt.Errorf("invalid topic0: %s", input)
		}
		if len(data) != common.HashLength {
			return common.Hash{}, fmt.Errorf("invalid topic0 length: %s", input)
		}
		return common.BytesToHash(data), nil
	}

	open := strings.Index(input, "(")
	if open <= 0 || !strings.HasSuffix(input, ")") || strings.ContainsAny(input, " \t") {
		return common.Hash{}, fmt.Errorf("invalid event signature: %s", input)
	}
	return crypto.Keccak256Hash([]byte(input)), nil
}
