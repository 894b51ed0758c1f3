// Package retry provides exponential backoff and retry logic for transient
// failures in network operations.
//
// Features:
//   - Exponential and constant backoff strategies
//   - Jitter to keep concurrent retries from lining up
//   - Context support for cancellation during backoff waits
//   - Configurable retry predicates aware of imgrelay error types
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//		return fetchOnce(ctx, target)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.DefaultExponentialBackoff(),
//	})
//	if errors.Is(err, retry.ErrExhausted) {
//		// every attempt failed
//	}
package retry
