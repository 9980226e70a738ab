package broker

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO. push never blocks.
type queue struct {
	mu    sync.Mutex
	items []Request
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(req Request) int {
	q.mu.Lock()
	q.items = append(q.items, req)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return n
}

// pop waits for the oldest request.
func (q *queue) pop(ctx context.Context) (Request, int, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.items[0] = Request{}
			q.items = q.items[1:]
			n := len(q.items)
			q.mu.Unlock()
			return req, n, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Request{}, 0, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
