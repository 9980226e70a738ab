package broker

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind identifies the RPC operation a request performs.
type Kind int

const (
	GetLastBlock Kind = iota + 1
	GetLogs
)

func (k Kind) String() string {
	switch k {
	case GetLastBlock:
		return "get_last_block"
	case GetLogs:
		return "get_logs"
	default:
		return "unknown"
	}
}

// Costs maps request kinds to provider credits.
type Costs struct {
	BlockNumber int
	Logs        int
}

// DefaultCosts are the provider's published credit prices.
func DefaultCosts() Costs {
	return Costs{BlockNumber: 80, Logs: 255}
}

func (c Costs) For(kind Kind) int {
	switch kind {
	case GetLastBlock:
		return c.BlockNumber
	case GetLogs:
		return c.Logs
	default:
		return 0
	}
}

// Request is one queued RPC call. Reply must have capacity for one response.
// A closed Done channel means the caller stopped waiting; the broker then
// skips the request without charging the limiter.
type Request struct {
	Kind    Kind
	Network string
	From    uint64
	To      uint64
	Reply   chan<- Response
	Done    <-chan struct{}
}

// Response carries the call result or its error.
type Response struct {
	Block uint64
	Logs  []types.Log
	Err   error
}

func (r Request) abandoned() bool {
	if r.Done == nil {
		return false
	}
	select {
	case <-r.Done:
		return true
	default:
		return false
	}
}
