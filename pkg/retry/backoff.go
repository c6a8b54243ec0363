package retry

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff produces attempt delays that double by default,
// with jitter to spread out simultaneous retries.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor is the fraction of the delay randomized, 0 to 1.
	JitterFactor float64
}

// DefaultBackoff starts at one second and caps at thirty.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay returns the delay to apply after the given attempt number.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if b == nil || attempt <= 0 {
		return 0
	}
	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.JitterFactor > 0 {
		jitter := delay * b.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
