// Package limits provides the client-side admission primitives: a byte-weighted
// semaphore with overdraft and a keyed rate-limit back-off window
package limits

import (
	"container/list"
	"context"
	"sync"
)

// BytesSemaphore is a weighted semaphore that admits a caller whenever the
// balance is non-negative, even if the requested weight exceeds it. The balance
// may go negative (overdraft) so a single oversized request is never starved;
// later callers queue FIFO until the overdraft is repaid
type BytesSemaphore struct {
	mu      sync.Mutex
	cur     int64
	max     int64
	waiters list.List
}

type bytesWaiter struct {
	n     int64
	ready chan struct{} // closed when the waiter is admitted and charged
}

// NewBytesSemaphore builds a semaphore with the given byte budget
func NewBytesSemaphore(maxBytes int64) *BytesSemaphore {
	if maxBytes <= 0 {
		panic("limits: byte budget must be positive")
	}
	return &BytesSemaphore{cur: maxBytes, max: maxBytes}
}

// Current returns the semaphore balance; negative means overdrawn
func (s *BytesSemaphore) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Acquire charges n bytes, blocking while the balance is negative.
// A waiter cancelled via ctx is not charged
func (s *BytesSemaphore) Acquire(ctx context.Context, n int64) error {
	s.mu.Lock()
	if s.cur >= 0 && s.waiters.Len() == 0 {
		s.cur -= n
		s.mu.Unlock()
		return nil
	}

	w := &bytesWaiter{n: n, ready: make(chan struct{})}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-w.ready:
			// admitted concurrently with cancellation; undo the charge
			s.cur += n
			s.wakeLocked()
			s.mu.Unlock()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release repays n bytes and admits queued waiters in FIFO order while the
// balance stays non-negative
func (s *BytesSemaphore) Release(n int64) {
	s.mu.Lock()
	s.cur += n
	if s.cur > s.max {
		s.cur = s.max
	}
	s.wakeLocked()
	s.mu.Unlock()
}

// wakeLocked pops and charges the oldest waiters while the balance is >= 0
func (s *BytesSemaphore) wakeLocked() {
	for s.cur >= 0 {
		front := s.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*bytesWaiter)
		s.waiters.Remove(front)
		s.cur -= w.n
		close(w.ready)
	}
}

// With runs fn while holding a charge of n bytes. The charge is repaid on every
// exit path, including a panic inside fn
func (s *BytesSemaphore) With(ctx context.Context, n int64, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx, n); err != nil {
		return err
	}
	defer s.Release(n)
	return fn(ctx)
}
