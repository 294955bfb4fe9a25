package scheduler

import (
	"math"
	"time"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponentialBackoff(initial, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{Initial: initial, Max: maxDelay}
}

func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && (d > e.Max || d < 0) {
		return e.Max
	}

	return d
}
