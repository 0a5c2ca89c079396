package fault

import (
	"context"
	"math"
	"time"
)

// RetryConfig defines the bounded exponential backoff applied around
// remote-call boundaries. It is never applied to pure local computation.
type RetryConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	RetryableKinds []Kind
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialDelay:   1 * time.Second,
	MaxDelay:       30 * time.Second,
	BackoffFactor:  2.0,
	RetryableKinds: []Kind{KindNetwork, KindTimeout, KindRemoteAPI},
}

// WithKinds returns a copy of the config with the retryable kind set
// replaced.
func (c RetryConfig) WithKinds(kinds ...Kind) RetryConfig {
	c.RetryableKinds = kinds
	return c
}

func (c RetryConfig) retryable(err error) bool {
	fe, ok := As(err)
	if !ok || !fe.Recoverable {
		return false
	}
	for _, k := range c.RetryableKinds {
		if fe.Kind == k {
			return true
		}
	}
	return false
}

// Retry invokes fn, retrying on errors whose kind is in the retryable set
// and whose recoverable flag is true. Any other error is returned
// immediately without consuming the retry budget. On exhaustion the last
// error is returned. Sleeps are context-aware and never block sibling
// goroutines.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.retryable(err) || attempt == cfg.MaxRetries {
			return zero, err
		}

		delay := backoffDelay(attempt, cfg)
		select {
		case <-ctx.Done():
			return zero, Timeout("retry aborted", WithCause(ctx.Err()))
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
