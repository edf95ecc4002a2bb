package retry

import (
	"errors"
	"fmt"
	"time"
)

// ErrMaxRetriesExceeded is returned once every attempt has failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy describes how many times and how fast an operation is retried.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	RetryableFunc func(error) bool
}

// DefaultPolicy retries five times with exponential backoff starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Validate checks the policy for impossible values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", p.MaxRetries)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must be non-negative, got %s", p.InitialDelay)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %f", p.Multiplier)
	}
	return nil
}
