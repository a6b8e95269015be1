package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffStrategy computes the delay to wait after a given number of failed
// attempts. The store records attempts; the strategy only shapes timing.
type BackoffStrategy interface {
	NextDelay(retryCount int) time.Duration
}

// ExponentialBackoff derives deterministic per-attempt delays from the
// standard exponential-backoff parameters: initial * multiplier^n, capped.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff mirrors the library defaults: 500ms initial, 1.5x growth,
// capped at one minute.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial:    backoff.DefaultInitialInterval,
		Multiplier: backoff.DefaultMultiplier,
		Max:        backoff.DefaultMaxInterval,
	}
}

// NextDelay steps a fresh backoff sequence retryCount times. Randomization
// is disabled so the delay for a given attempt count is deterministic; the
// store persists attempt counts, not deadlines.
func (b *ExponentialBackoff) NextDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.Multiplier = b.Multiplier
	eb.MaxInterval = b.Max
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	delay := eb.NextBackOff()
	for i := 1; i < retryCount; i++ {
		delay = eb.NextBackOff()
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}
