package poller

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// PendingRanges covers the blocks after checkpoint up to and including
// latest, in batches of at most batchSize blocks. Nothing is pending when
// latest is not past the checkpoint.
func PendingRanges(checkpoint, latest, batchSize uint64) ([]BlockRange, error) {
	if latest <= checkpoint {
		return nil, nil
	}
	return SplitRange(checkpoint+1, latest, batchSize)
}

// SplitRange splits a block range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
		start = end + 1
	}
}
