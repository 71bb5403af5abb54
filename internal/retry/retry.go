// Package retry provides bounded exponential backoff for transient store failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Config holds retry parameters.
type Config struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // delay before the second attempt
	Multiplier   float64       // backoff multiplier between attempts
	MaxDelay     time.Duration // cap on the delay
	Jitter       bool          // randomize each delay in [delay/2, delay)
}

// DefaultConfig matches the store retry policy: 3 attempts, 100ms base, x2.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     2 * time.Second,
		Jitter:       true,
	}
}

// Do runs op, retrying while retryable(err) is true and attempts remain.
// Context cancellation stops retrying immediately and returns ctx.Err()
// joined with the last operation error.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(jittered(delay, cfg.Jitter)):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

func jittered(d time.Duration, jitter bool) time.Duration {
	if !jitter || d <= 0 {
		return d
	}
	randMu.Lock()
	defer randMu.Unlock()
	half := int64(d) / 2
	return time.Duration(half + randSource.Int63n(half+1))
}
