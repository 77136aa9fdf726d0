package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxAttempts int           // Total attempts including the first (1 = no retries)
	BaseDelay   time.Duration // Delay before the second attempt; doubles each failure
	MaxDelay    time.Duration // Cap on the exponential backoff
	Timeout     time.Duration // Per-attempt deadline (0 = none)
}

// DefaultRetryConfig returns the retry policy used for embedding and
// completion calls: three total attempts, 250ms initial backoff.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Timeout:     2 * time.Minute,
	}
}

// Backoff returns the delay applied before the given attempt (1-based). The
// first attempt has no delay; each subsequent delay doubles, capped at MaxDelay.
func (c *RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := c.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Do runs op up to cfg.MaxAttempts times, sleeping cfg.Backoff(attempt) before
// each retry. The delay is applied before the next attempt, never after the
// last one. Each invocation carries its own retry state, so callers may run
// independent operations concurrently.
func Do[T any](ctx context.Context, cfg *RetryConfig, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if delay := cfg.Backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		result, err := op(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err

		// The caller going away is the one condition a retry cannot fix.
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// RetryProvider wraps a Provider with per-call retry and backoff. Streaming
// calls are not retried: by the time a stream fails, part of its output has
// already been delivered downstream.
type RetryProvider struct {
	inner  Provider
	config *RetryConfig
}

// NewRetryProvider wraps an existing provider with retry logic.
func NewRetryProvider(inner Provider, config *RetryConfig) *RetryProvider {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryProvider{inner: inner, config: config}
}

// Name returns the underlying provider name.
func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

// Complete sends a prompt with timeout and retry logic.
func (r *RetryProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	return Do(ctx, r.config, func(ctx context.Context) (*Response, error) {
		return r.inner.Complete(ctx, prompt, opts)
	})
}

// Embed sends an embedding request with timeout and retry logic. A response
// that parses but carries no vector payload fails the attempt and is retried
// like any other transient fault.
func (r *RetryProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return Do(ctx, r.config, func(ctx context.Context) ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// Stream delegates to the inner provider without retrying.
func (r *RetryProvider) Stream(ctx context.Context, prompt *Prompt, opts *RequestOptions, fn StreamFunc) error {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	return r.inner.Stream(ctx, prompt, opts, fn)
}

var _ Provider = (*RetryProvider)(nil)
