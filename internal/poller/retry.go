package poller

import (
	"context"
	"time"

	"invoiceMonitor/internal/failure"
)

// retryForever calls fn until it succeeds, waiting delay between attempts.
// Only retryable failures are retried; others are returned as is.
func retryForever(ctx context.Context, delay time.Duration, fn func(context.Context) error) error {
	if delay <= 0 {
		delay = time.Second
	}

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !failure.IsRetryable(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
