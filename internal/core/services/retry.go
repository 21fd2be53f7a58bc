package services

import (
	"context"
	"time"
)

// retryDelays is the fixed backoff schedule for per-file operations (spec
// §4.8): up to 3 retries after the first attempt, waiting 200ms -> 800ms ->
// 3.2s before them.
var retryDelays = []time.Duration{200 * time.Millisecond, 800 * time.Millisecond, 3200 * time.Millisecond}

// sleepFunc is overridden in tests to avoid real delays, the way
// onedrive-go's graph.Client injects sleepFunc for the same reason.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry calls op up to len(retryDelays)+1 times, sleeping the fixed
// schedule between attempts, and returns the last error if every attempt
// failed. It stops early if ctx is cancelled.
func withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt >= len(retryDelays) {
			return lastErr
		}
		if err := sleepFunc(ctx, retryDelays[attempt]); err != nil {
			return lastErr
		}
	}
}
