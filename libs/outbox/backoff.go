package outbox

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy schedules the next attempt for a failed record:
// now + min(cap, base * 2^(attempts-1)) + jitter. Attempts count claims, so
// the first retry after one failed publish uses the base delay.
type RetryPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base: 500 * time.Millisecond,
		Cap:  5 * time.Minute,
	}
}

// Delay returns the backoff before the next attempt, without jitter.
// It is monotonically non-decreasing in attempts up to Cap.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := uint(attempts - 1)
	if shift > 30 {
		shift = 30
	}
	d := p.Base << shift
	if d <= 0 || d > p.Cap {
		d = p.Cap
	}
	return d
}

// NextRetryAt adds jitter in [0, Base) so that a burst of failures does not
// come back as a synchronized thundering herd.
func (p RetryPolicy) NextRetryAt(now time.Time, attempts int) time.Time {
	jitter := time.Duration(0)
	if p.Base > 0 {
		jitter = time.Duration(rand.Int64N(int64(p.Base)))
	}
	return now.Add(p.Delay(attempts) + jitter)
}
