// Package retry runs operations with bounded exponential backoff.
//
// The n-th retry waits BaseDelay * 2^(n-1). After MaxRetries retries the
// last failure is returned wrapped in errors.ErrRetriesExhausted, without
// a further delay. Which failures are retried is decided by the RetryIf
// predicate: RetryOnAnyError, RetryOnRateLimit or RetryOnTransient.
//
//	cfg := &retry.Config{
//		MaxRetries: 5,
//		Backoff:    retry.DefaultExponentialBackoff(),
//		RetryIf:    retry.RetryOnRateLimit,
//		Logger:     logger.GetLogger(),
//	}
//	items, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]models.Item, error) {
//		return timeline.FetchPage(ctx, cursor)
//	}, cfg)
//
// Waiting honours ctx; Config.Sleep replaces the timer in tests.
package retry
