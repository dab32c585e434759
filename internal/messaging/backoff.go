package messaging

import (
	"math/rand"
	"time"
)

// Backoff computes capped exponential delays with jitter. Attempt 0 waits
// roughly Base; each further attempt doubles, capped at Max. Half of each
// delay is fixed, half is random, so concurrent retries spread out.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the given retry attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
