package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"tsscraper/pkg/config"
)

// Pacer spaces out successive page requests.
type Pacer interface {
	// Wait blocks until the next request may be sent or ctx is done
	Wait(ctx context.Context) error
}

// JitteredDelay waits a fixed delay plus a uniform random jitter in
// [0, Jitter) between pages.
type JitteredDelay struct {
	Delay  time.Duration
	Jitter time.Duration

	// random returns a value in [0, n); defaults to rand.Int63n
	random func(n int64) int64
	// sleep waits for d; defaults to a ctx-aware timer
	sleep func(ctx context.Context, d time.Duration) error
}

// NewJitteredDelay creates a pacer with the given base delay and jitter
func NewJitteredDelay(delay, jitter time.Duration) *JitteredDelay {
	return &JitteredDelay{Delay: delay, Jitter: jitter}
}

// FromHarvestConfig builds the inter-page pacer from harvest settings.
func FromHarvestConfig(cfg config.HarvestConfig) *JitteredDelay {
	return NewJitteredDelay(cfg.Delay(), cfg.Jitter)
}

// Next returns the delay before the next request
func (p *JitteredDelay) Next() time.Duration {
	delay := p.Delay
	if p.Jitter > 0 {
		random := p.random
		if random == nil {
			random = rand.Int63n
		}
		delay += time.Duration(random(int64(p.Jitter)))
	}
	return delay
}

// Wait sleeps for Next() or until ctx is cancelled
func (p *JitteredDelay) Wait(ctx context.Context) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, p.Next())
}

// NoDelay never waits.
type NoDelay struct{}

// Wait returns immediately unless ctx is already done
func (NoDelay) Wait(ctx context.Context) error {
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
