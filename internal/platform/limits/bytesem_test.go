package limits

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "tinker/internal/platform/testkit"
)

func TestBytesSemaphoreBasicAcquireRelease(t *testing.T) {
	s := NewBytesSemaphore(100)
	ctx := context.Background()

	if err := s.Acquire(ctx, 60); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := s.Current(); got != 40 {
		t.Fatalf("current = %d, want 40", got)
	}
	s.Release(60)
	if got := s.Current(); got != 100 {
		t.Fatalf("current = %d, want 100", got)
	}
}

func TestBytesSemaphoreOverdraft(t *testing.T) {
	s := NewBytesSemaphore(100)
	ctx := context.Background()

	// an oversized request is admitted while the balance is non-negative
	if err := s.Acquire(ctx, 250); err != nil {
		t.Fatalf("oversized acquire: %v", err)
	}
	if got := s.Current(); got != -150 {
		t.Fatalf("current = %d, want -150", got)
	}

	// the next caller blocks until the overdraft is repaid
	admitted := make(chan struct{})
	go func() {
		if err := s.Acquire(ctx, 10); err != nil {
			t.Errorf("blocked acquire: %v", err)
		}
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatalf("second acquire should have blocked while overdrawn")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release(250)
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatalf("second acquire not admitted after repayment")
	}
}

func TestBytesSemaphoreFIFOWake(t *testing.T) {
	s := NewBytesSemaphore(100)
	ctx := context.Background()

	if err := s.Acquire(ctx, 300); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(ctx, 10); err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		// serialize enqueue so FIFO order is observable
		time.Sleep(20 * time.Millisecond)
	}

	s.Release(300)
	wg.Wait()

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("wake order = %v, want [0 1 2]", order)
	}
}

func TestBytesSemaphoreCancelledWaiterNotCharged(t *testing.T) {
	s := NewBytesSemaphore(100)
	ctx := context.Background()

	if err := s.Acquire(ctx, 150); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- s.Acquire(cctx, 30) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errc; err != context.Canceled {
		t.Fatalf("cancelled acquire err = %v", err)
	}

	// repayment must restore the full balance; the cancelled waiter took nothing
	s.Release(150)
	if got := s.Current(); got != 100 {
		t.Fatalf("current after cancel+release = %d, want 100", got)
	}
}

func TestBytesSemaphoreWithRestoresBalance(t *testing.T) {
	s := NewBytesSemaphore(100)
	ctx := context.Background()

	before := s.Current()
	if err := s.With(ctx, 70, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("with: %v", err)
	}
	if got := s.Current(); got != before {
		t.Fatalf("balance after With = %d, want %d", got, before)
	}

	// a panic inside fn still repays the charge
	kit.MustPanic(t, func() {
		_ = s.With(ctx, 70, func(context.Context) error { panic("boom") })
	})
	if got := s.Current(); got != before {
		t.Fatalf("balance after panicking With = %d, want %d", got, before)
	}

	// fn failure also repays
	wantErr := context.DeadlineExceeded
	if err := s.With(ctx, 70, func(context.Context) error { return wantErr }); err != wantErr {
		t.Fatalf("with err = %v", err)
	}
	if got := s.Current(); got != before {
		t.Fatalf("balance after failing With = %d, want %d", got, before)
	}
}

func TestNewBytesSemaphorePanicsOnBadBudget(t *testing.T) {
	kit.MustPanic(t, func() { NewBytesSemaphore(0) })
	kit.MustPanic(t, func() { NewBytesSemaphore(-1) })
}
