package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ziadkadry99/cadence/internal/clock"
)

// RateLimitedProvider wraps a Provider with a token bucket rate limiter.
type RateLimitedProvider struct {
	provider Provider
	rpm      int
	clock    clock.Clock
	poll     time.Duration
	mu       sync.Mutex
	tokens   int
	lastFill time.Time
}

// NewRateLimitedProvider wraps the given provider with a rate limiter
// that allows at most rpm requests per minute. rpm <= 0 disables limiting.
func NewRateLimitedProvider(provider Provider, rpm int) Provider {
	if rpm <= 0 {
		return provider
	}
	return newRateLimited(provider, rpm, clock.System{}, 100*time.Millisecond)
}

func newRateLimited(provider Provider, rpm int, clk clock.Clock, poll time.Duration) *RateLimitedProvider {
	return &RateLimitedProvider{
		provider: provider,
		rpm:      rpm,
		clock:    clk,
		poll:     poll,
		tokens:   rpm,
		lastFill: clk.Now(),
	}
}

func (r *RateLimitedProvider) Name() string {
	return r.provider.Name()
}

func (r *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.provider.Complete(ctx, req)
}

// take refills the bucket and consumes one token if one is available.
func (r *RateLimitedProvider) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	refill := int(now.Sub(r.lastFill).Seconds() * float64(r.rpm) / 60.0)
	if refill > 0 {
		r.tokens = min(r.tokens+refill, r.rpm)
		r.lastFill = now
	}
	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}

func (r *RateLimitedProvider) wait(ctx context.Context) error {
	for !r.take() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
	return nil
}
