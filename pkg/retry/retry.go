package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tsscraper/pkg/config"
	errs "tsscraper/pkg/errors"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/metrics"
)

// Operation is a function that performs an operation that might need retrying
type Operation func(ctx context.Context) error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func(ctx context.Context) (T, error)

// Config holds retry configuration
type Config struct {
	// MaxRetries bounds the retries; the operation runs at most MaxRetries+1 times
	MaxRetries int
	// Backoff strategy to use
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// Policy labels retry metrics
	Policy string
	// OnRetry is called before each retry delay
	OnRetry func(retry int, err error, delay time.Duration)
	// Sleep waits between attempts; defaults to Wait
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns five retries, doubling from 10 seconds, on any error.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 5,
		Backoff:    DefaultExponentialBackoff(),
		RetryIf:    RetryOnAnyError,
		Policy:     config.RetryPolicyAny,
		Logger:     logger.GetLogger(),
	}
}

// FromHarvestConfig builds a retry configuration from harvest settings.
func FromHarvestConfig(cfg config.HarvestConfig, log logger.Logger) (*Config, error) {
	retryIf, err := PolicyFor(cfg.RetryPolicy)
	if err != nil {
		return nil, err
	}
	return &Config{
		MaxRetries: cfg.MaxRetries,
		Backoff: &ExponentialBackoff{
			BaseDelay:  cfg.RetryBaseDelay,
			Multiplier: 2.0,
		},
		RetryIf: retryIf,
		Policy:  cfg.RetryPolicy,
		Logger:  log,
	}, nil
}

// RetryOnAnyError retries every failure except cancellation. A missed
// per-request deadline is a timeout and is retried; Do itself stops once
// the caller's context is done.
func RetryOnAnyError(err error) bool {
	if err == nil {
		return false
	}
	if errs.TypeOf(err) == errs.ErrorTypeTimeout {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

// RetryOnRateLimit retries HTTP 429 responses only.
func RetryOnRateLimit(err error) bool {
	return errs.IsRateLimit(err)
}

// RetryOnTransient retries network failures, timeouts, 429 and 5xx.
func RetryOnTransient(err error) bool {
	if err == nil {
		return false
	}
	return errs.IsRetryable(errs.TypeOf(err))
}

// PolicyFor maps a configured retry policy name to its predicate.
func PolicyFor(policy string) (func(error) bool, error) {
	switch policy {
	case config.RetryPolicyAny, "":
		return RetryOnAnyError, nil
	case config.RetryPolicyRateLimit:
		return RetryOnRateLimit, nil
	case config.RetryPolicyTransient:
		return RetryOnTransient, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", policy)
	}
}

// Do executes an operation with retry logic. Once the retries are used up
// the returned error wraps both errors.ErrRetriesExhausted and the last
// failure. Errors rejected by RetryIf are returned unchanged.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultExponentialBackoff()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = RetryOnAnyError
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Wait
	}
	policy := cfg.Policy
	if policy == "" {
		policy = config.RetryPolicyAny
	}

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"retries": attempt,
				})
			}
			return nil
		}

		if ctx.Err() != nil {
			return err
		}

		if !retryIf(err) {
			return err
		}

		if attempt >= cfg.MaxRetries {
			metrics.RetryExhausted.Inc()
			if cfg.Logger != nil {
				cfg.Logger.WithError(err).ErrorWithFields("max retries exceeded", map[string]interface{}{
					"max_retries": cfg.MaxRetries,
				})
			}
			return fmt.Errorf("%w: %w", errs.ErrRetriesExhausted, err)
		}

		retry := attempt + 1
		delay := backoff.NextDelay(retry)

		if cfg.OnRetry != nil {
			cfg.OnRetry(retry, err, delay)
		}
		if cfg.Logger != nil {
			logger.LogRetry(cfg.Logger, retry, cfg.MaxRetries, delay, err)
		}
		metrics.Retries.WithLabelValues(policy).Inc()

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, cfg)

	return result, err
}

// Retrier provides a reusable retry mechanism
type Retrier struct {
	config *Config
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(cfg *Config) *Retrier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Retrier{config: cfg}
}

// Do executes an operation with retry logic
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	return Do(ctx, op, r.config)
}

// Config returns the retrier's configuration
func (r *Retrier) Config() *Config {
	return r.config
}
