package sampling

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"tinker/internal/platform/limits"
)

const (
	// maxInFlight bounds concurrent sample dispatches per limiter
	maxInFlight = 400

	// throttledInFlight is the tightened bound while recently rate limited
	throttledInFlight = 10

	// bytesBudget bounds the estimated payload bytes in flight
	bytesBudget = 5 << 20

	// bytePenalty inflates the byte charge while recently rate limited, so
	// large requests drain the budget faster than small ones during recovery
	bytePenalty = 20

	// recentWindow is how long after a back-off deadline the throttled regime
	// keeps applying
	recentWindow = 10 * time.Second
)

// Limiter gates sample dispatch with three nested admissions: a global
// concurrency cap, a much tighter cap while recently rate limited, and an
// estimated-bytes budget. Safe for concurrent use
type Limiter struct {
	global    *semaphore.Weighted
	throttled *semaphore.Weighted
	bytes     *limits.BytesSemaphore

	// UnixNano of the last back-off deadline; 0 = never throttled
	until atomic.Int64

	now func() time.Time
}

// NewLimiter builds a limiter with the production bounds
func NewLimiter() *Limiter {
	return &Limiter{
		global:    semaphore.NewWeighted(maxInFlight),
		throttled: semaphore.NewWeighted(throttledInFlight),
		bytes:     limits.NewBytesSemaphore(bytesBudget),
		now:       time.Now,
	}
}

// SetBackoff records a rate-limit deadline d from now. The throttled regime
// applies until the deadline plus the recent window has passed
func (l *Limiter) SetBackoff(d time.Duration) {
	u := l.now().Add(d).UnixNano()
	if u == 0 {
		u = 1
	}
	// keep the furthest deadline; concurrent 429s race here
	for {
		cur := l.until.Load()
		if cur >= u || l.until.CompareAndSwap(cur, u) {
			return
		}
	}
}

// Throttled reports whether dispatch is in the tightened regime
func (l *Limiter) Throttled() bool {
	u := l.until.Load()
	if u == 0 {
		return false
	}
	return l.now().Before(time.Unix(0, u).Add(recentWindow))
}

// WithRateLimit admits one dispatch of estimated size nbytes and runs fn.
// Throttled dispatches pay a byte penalty so the budget recovers before full
// concurrency resumes
func (l *Limiter) WithRateLimit(ctx context.Context, nbytes int64, fn func(ctx context.Context) error) error {
	if err := l.global.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.global.Release(1)

	// one reading of the regime for both the slot and the charge, so a
	// dispatch racing the window edge never mixes the two
	throttled := l.Throttled()
	if throttled {
		if err := l.throttled.Acquire(ctx, 1); err != nil {
			return err
		}
		defer l.throttled.Release(1)
	}

	charge := nbytes
	if throttled {
		charge *= bytePenalty
	}
	return l.bytes.With(ctx, charge, fn)
}
