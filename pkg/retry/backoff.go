package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays for a policy.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     bool
}

// NewBackoff builds a backoff calculator from a policy.
func NewBackoff(p Policy) *Backoff {
	multiplier := p.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}
	return &Backoff{
		initial:    p.InitialDelay,
		max:        p.MaxDelay,
		multiplier: multiplier,
		jitter:     p.Jitter,
	}
}

// Calculate returns the delay before the given retry attempt (1-based).
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if b.max > 0 && delay > float64(b.max) {
		delay = float64(b.max)
	}
	if b.jitter && delay > 0 {
		// +/- 20%
		delay = delay * (0.8 + 0.4*rand.Float64())
	}
	return time.Duration(delay)
}
