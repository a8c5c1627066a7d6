// Package retry runs an operation with bounded exponential backoff.  It is
// used by the hold coordinator to ride out short store outages before
// reporting the store as unavailable.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned when every attempt failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config contains retry configuration.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialInterval is the wait before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps every wait.
	MaxInterval time.Duration
	// Multiplier grows the interval after each retry.
	Multiplier float64
	// JitterFactor adds up to ±JitterFactor of randomness to each wait.
	JitterFactor float64
}

// DefaultConfig suits in-request retries against a local store:
// 50ms, 100ms, 200ms.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is the function to be retried.
type Operation func(ctx context.Context) error

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Callback is invoked before each wait with the attempt that failed.
type Callback func(attempt int, err error, wait time.Duration)

// Retrier handles retry logic with exponential backoff.
type Retrier struct {
	config Config
}

// New creates a Retrier, filling zero values from DefaultConfig.
func New(config Config) *Retrier {
	def := DefaultConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = def.InitialInterval
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = def.MaxInterval
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}
	if config.JitterFactor > 1 {
		config.JitterFactor = 1
	}
	return &Retrier{config: config}
}

// Do runs op until it succeeds, returns a permanent error, the context is
// done, or the retries are spent.  Permanent errors come back unwrapped.
// When retries run out the result wraps both ErrMaxRetriesExceeded and
// the last error.
func (r *Retrier) Do(ctx context.Context, op Operation, cb Callback) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		lastErr = err

		if attempt == r.config.MaxRetries {
			break
		}
		wait := r.interval(attempt)
		if cb != nil {
			cb(attempt+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return errors.Join(ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) interval(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))
	if r.config.JitterFactor > 0 {
		jitter := interval * r.config.JitterFactor
		interval += (rand.Float64()*2 - 1) * jitter
	}
	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval < 0 {
		interval = float64(r.config.InitialInterval)
	}
	return time.Duration(interval)
}
