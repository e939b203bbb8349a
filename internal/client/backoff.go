package client

import "time"

// Backoff doubles from Base up to Max, for at most MaxAttempts tries.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 1s, 2s, 4s ... capped at 30s, ten attempts.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
