package chain

import (
	"math/rand/v2"
	"time"
)

// Backoff computes capped exponential delays with full jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// jitter returns a value in [0, n). Replaced in tests.
	jitter func(n int64) int64
}

// NewBackoff creates a full-jitter backoff.
func NewBackoff(base, max time.Duration) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return Backoff{Base: base, Max: max, jitter: rand.Int64N}
}

// Ceiling returns base * 2^attempt capped at Max.
func (b Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^31 * 1ns already exceeds any sane cap; avoid shift overflow.
	if attempt > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<attempt)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Delay returns a random delay in [0, Ceiling(attempt)].
func (b Backoff) Delay(attempt int) time.Duration {
	ceil := b.Ceiling(attempt)
	jitter := b.jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return time.Duration(jitter(int64(ceil) + 1))
}
