// Package retry retries startup-time operations, such as the first database
// ping, with exponential backoff. Request paths never retry; the sanctions
// screener relies on its circuit breaker instead.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration // doubled after each failure, +-25% jitter
	MaxDelay  time.Duration // zero means uncapped
	Logger    *slog.Logger  // optional; logs each failed attempt
}

// StartupPolicy suits connecting to dependencies at boot: about 30 seconds
// of attempts before giving up.
var StartupPolicy = Policy{Attempts: 6, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

// Do calls fn until it succeeds, returns a Permanent error, ctx is done or
// the attempts run out. It returns the last error from fn.
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if p.Logger != nil {
			p.Logger.Warn("attempt failed", "op", op, "attempt", attempt, "of", p.Attempts, "error", err)
		}
		if attempt == p.Attempts {
			break
		}

		jitter := delay / 4
		sleep := delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}
