package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures request rate limiting for model providers.
// Ingestion fans out one embedding call per chunk, so a large document can
// otherwise burst well past free-tier request limits.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// BurstSize allows temporary burst above the steady rate
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier cloud APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
	}
}

// RateLimitProvider wraps a provider with a token-bucket request limiter.
// All call kinds (complete, stream, embed) draw from the same bucket.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitProvider{
		inner:      inner,
		config:     config,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Complete waits for capacity, then delegates to the inner provider.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, prompt, opts)
}

// Stream waits for capacity, then delegates to the inner provider. The stream
// counts as a single request regardless of how many increments it yields.
func (r *RateLimitProvider) Stream(ctx context.Context, prompt *Prompt, opts *RequestOptions, fn StreamFunc) error {
	if err := r.waitForCapacity(ctx); err != nil {
		return err
	}
	return r.inner.Stream(ctx, prompt, opts, fn)
}

// Embed waits for capacity, then delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// waitForCapacity blocks until the bucket grants one request token.
func (r *RateLimitProvider) waitForCapacity(ctx context.Context) error {
	if r.config.RequestsPerMinute <= 0 {
		return nil
	}

	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.timeUntilToken()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// refill adds tokens for the time elapsed since the last refill, capped at
// the burst size. Caller must hold mu.
func (r *RateLimitProvider) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now

	r.tokens += elapsed.Minutes() * float64(r.config.RequestsPerMinute)
	burst := float64(r.config.BurstSize)
	if burst < 1 {
		burst = 1
	}
	if r.tokens > burst {
		r.tokens = burst
	}
}

// timeUntilToken estimates the wait for the next whole token. Caller must hold mu.
func (r *RateLimitProvider) timeUntilToken() time.Duration {
	deficit := 1 - r.tokens
	perToken := time.Minute / time.Duration(r.config.RequestsPerMinute)
	return time.Duration(deficit * float64(perToken))
}

// WithRateLimit wraps a provider with rate limiting.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, config)
}

var _ Provider = (*RateLimitProvider)(nil)
