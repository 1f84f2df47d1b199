package queue

import (
	"math/rand/v2"
	"time"
)

// Backoff spaces retries of one operation: Base doubled per attempt, capped
// at Max, spread by +/- Jitter of the delay.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff is used when the queue is given a zero Backoff
var DefaultBackoff = Backoff{
	Base:   2 * time.Second,
	Max:    5 * time.Minute,
	Jitter: 0.2,
}

// Delay returns how long to wait after the given number of failed attempts
func (b Backoff) Delay(attempts int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return d
}
