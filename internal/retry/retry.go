// Package retry holds the backoff policy shared by the feed fetcher and the poster.
package retry

import (
	"context"
	"time"
)

// maxShift caps the exponent so large attempt counts cannot overflow.
const maxShift = 16

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	Attempts    int
	Delay       time.Duration
	Exponential bool
}

// Backoff returns the wait after the given zero-based failed attempt:
// Delay for a fixed policy, Delay * 2^attempt for an exponential one.
func (p Policy) Backoff(attempt int) time.Duration {
	if !p.Exponential || attempt <= 0 {
		return p.Delay
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	return p.Delay * time.Duration(1<<uint(attempt))
}

// MaxAttempts returns Attempts, never less than one.
func (p Policy) MaxAttempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoSleep returns immediately. Tests use it to skip backoff delays.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
