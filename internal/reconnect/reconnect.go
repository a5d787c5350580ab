// Package reconnect computes the exponential backoff schedule used by the
// push-channel socket.
package reconnect

import "time"

const (
	// DefaultBase is the delay before the first reconnect attempt.
	DefaultBase = time.Second
	// DefaultMaxAttempts bounds automatic reconnect attempts.
	DefaultMaxAttempts = 5
)

// Backoff describes an exponential reconnect schedule.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// Default returns the schedule used when nothing is configured.
func Default() Backoff {
	return Backoff{Base: DefaultBase, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns the wait before the given attempt: Base * 2^(attempt-1).
// Attempts are numbered from 1; lower values are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBase
	}
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	// keep the shift within a range that cannot overflow int64 nanoseconds
	if shift > 30 {
		shift = 30
	}
	return base << shift
}

// Exhausted reports whether attempt exceeds the configured maximum.
func (b Backoff) Exhausted(attempt int) bool {
	max := b.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return attempt > max
}
