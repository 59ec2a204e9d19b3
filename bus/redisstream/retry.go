package redisstream

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// retryConfig configures bounded retry with exponential backoff, adapted
// from the teacher's A2A client retry helper for the network errors a
// Redis client surfaces instead of HTTP status codes.
type retryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
}

// readRetry governs XRANGE and XREAD: per the bus's retry policy, network
// errors on read operations are retried with exponential backoff.
var readRetry = retryConfig{
	MaxAttempts:       5,
	InitialBackoff:    100 * time.Millisecond,
	MaxBackoff:        5 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            0.1,
}

// writeRetry governs XADD: publishes are best-effort-once within a small
// bounded budget, not retried indefinitely, so a producer is never
// blocked for long by a struggling backend.
var writeRetry = retryConfig{
	MaxAttempts:       3,
	InitialBackoff:    50 * time.Millisecond,
	MaxBackoff:        500 * time.Millisecond,
	BackoffMultiplier: 2.0,
	Jitter:            0.1,
}

// isRetryableRedisErr reports whether err looks like a transient network
// failure worth retrying, as opposed to a permanent protocol error
// (e.g. WRONGTYPE, auth failure) that will not succeed on retry.
func isRetryableRedisErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return false
}

// withRetry runs fn, retrying with exponential backoff while its error is
// retryable, until cfg.MaxAttempts is exhausted or ctx is done. The last
// error is returned unwrapped; callers wrap it in streamerr.BackendUnavailable.
func withRetry(ctx context.Context, cfg retryConfig, fn func(ctx context.Context) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableRedisErr(err) || attempt >= maxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateBackoff(cfg, attempt)):
		}
	}
	return lastErr
}

// calculateBackoff computes the backoff duration for a given attempt:
// initial * multiplier^(attempt-1), capped at MaxBackoff, with up to
// Jitter fraction of randomness applied to avoid synchronized retries
// across subscribers of the same run.
func calculateBackoff(cfg retryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		jitter := backoff * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
		backoff += jitter
	}
	return time.Duration(backoff)
}
