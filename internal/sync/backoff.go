package sync

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxRetries is the attempt ceiling after which a queue item fails
// terminally.
const DefaultMaxRetries = 5

// BackoffPolicy decides whether a failed queue item is retried and when.
// Delays double from Initial and are capped at Max, without jitter:
// 2m, 4m, 8m, 16m for the defaults.
type BackoffPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{MaxRetries: DefaultMaxRetries, Initial: 2 * time.Minute, Max: time.Hour}
}

// Exhausted reports whether retryCount has reached the ceiling.
func (p BackoffPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// Delay returns the wait before attempt retryCount+1. It is non-decreasing
// in retryCount and never exceeds Max.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
		if d >= p.Max {
			return p.Max
		}
	}
	return d
}
