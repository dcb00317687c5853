package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned when all attempts have failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy configures retry behavior
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	// RetryableFunc decides whether an error is worth retrying. When
	// nil every error except context cancellation is retried.
	RetryableFunc func(error) bool
}

// DefaultPolicy returns a policy suitable for transient network failures
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// Validate checks the policy for invalid values
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", p.MaxRetries)
	}
	if p.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %s", p.InitialBackoff)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max backoff %s is below initial backoff %s", p.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %f", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be in [0,1], got %f", p.Jitter)
	}
	return nil
}

// Backoff computes exponential backoff durations with jitter
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator for the policy
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the wait before the given attempt (1-based).
// Jitter spreads concurrent retriers so they do not hammer a
// recovering dependency in lockstep.
func (b *Backoff) Calculate(attempt int) time.Duration {
	base := float64(b.policy.InitialBackoff) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if base > float64(b.policy.MaxBackoff) {
		base = float64(b.policy.MaxBackoff)
	}
	if b.policy.Jitter > 0 {
		delta := base * b.policy.Jitter
		base = base - delta + rand.Float64()*2*delta
	}
	return time.Duration(base)
}
