package sampling

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"tinker/internal/platform/limits"
)

func testLimiter(budget int64, throttledSlots int64) (*Limiter, *time.Time) {
	now := time.Unix(1000, 0)
	l := &Limiter{
		global:    semaphore.NewWeighted(maxInFlight),
		throttled: semaphore.NewWeighted(throttledSlots),
		bytes:     limits.NewBytesSemaphore(budget),
		now:       func() time.Time { return now },
	}
	return l, &now
}

func TestThrottledRegime(t *testing.T) {
	t.Parallel()

	l, now := testLimiter(100, 1)
	if l.Throttled() {
		t.Fatal("fresh limiter should not be throttled")
	}

	l.SetBackoff(time.Second)
	if !l.Throttled() {
		t.Fatal("want throttled after SetBackoff")
	}

	// still inside the recent window after the deadline itself passes
	*now = now.Add(5 * time.Second)
	if !l.Throttled() {
		t.Fatal("want throttled within the recent window")
	}

	*now = now.Add(recentWindow)
	if l.Throttled() {
		t.Fatal("throttled regime should expire")
	}
}

func TestSetBackoffKeepsFurthestDeadline(t *testing.T) {
	t.Parallel()

	l, now := testLimiter(100, 1)
	l.SetBackoff(10 * time.Second)
	l.SetBackoff(time.Second)

	*now = now.Add(2*time.Second + recentWindow)
	if !l.Throttled() {
		t.Fatal("shorter back-off should not shrink the deadline")
	}
}

func TestWithRateLimitCharges(t *testing.T) {
	t.Parallel()

	l, _ := testLimiter(1000, 1)
	err := l.WithRateLimit(context.Background(), 300, func(context.Context) error {
		if got := l.bytes.Current(); got != 700 {
			t.Fatalf("balance during fn = %d, want 700", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRateLimit: %v", err)
	}
	if got := l.bytes.Current(); got != 1000 {
		t.Fatalf("balance after = %d, want 1000", got)
	}
}

func TestWithRateLimitPenalizesWhileThrottled(t *testing.T) {
	t.Parallel()

	l, _ := testLimiter(10000, 1)
	l.SetBackoff(time.Minute)

	err := l.WithRateLimit(context.Background(), 100, func(context.Context) error {
		if got := l.bytes.Current(); got != 10000-100*bytePenalty {
			t.Fatalf("balance during fn = %d, want %d", got, 10000-100*bytePenalty)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRateLimit: %v", err)
	}
	if got := l.bytes.Current(); got != 10000 {
		t.Fatalf("balance after = %d, want 10000", got)
	}
}

func TestWithRateLimitRegimeConsistentAcrossWindowEdge(t *testing.T) {
	t.Parallel()

	l, _ := testLimiter(10000, 1)

	// the regime expires between admission and any later reading of the
	// clock; the charge must still match the admission decision
	base := time.Unix(1000, 0)
	calls := 0
	l.now = func() time.Time {
		calls++
		if calls > 2 {
			return base.Add(time.Hour)
		}
		return base
	}
	l.SetBackoff(time.Minute)

	err := l.WithRateLimit(context.Background(), 100, func(context.Context) error {
		if got := l.bytes.Current(); got != 10000-100*bytePenalty {
			t.Fatalf("balance during fn = %d, want %d", got, 10000-100*bytePenalty)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRateLimit: %v", err)
	}
}

func TestThrottledConcurrencyBound(t *testing.T) {
	t.Parallel()

	l, _ := testLimiter(1<<20, 1)
	l.SetBackoff(time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.WithRateLimit(context.Background(), 1, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// the single throttled slot is held; a second dispatch must time out
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WithRateLimit(ctx, 1, func(context.Context) error { return nil }); err == nil {
		t.Fatal("second dispatch should block on the throttled slot")
	}

	close(release)
	wg.Wait()

	if err := l.WithRateLimit(context.Background(), 1, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("dispatch after release: %v", err)
	}
}
