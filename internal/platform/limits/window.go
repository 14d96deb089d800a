package limits

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Window is a back-off deadline scoped to one (base URL, credential) pair.
// Reads on the hot path are lock-free; writes swap the deadline atomically.
// All arithmetic rides Go's monotonic clock
type Window struct {
	deadline atomic.Pointer[time.Time] // nil = unset

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWindow builds an unset window
func NewWindow() *Window {
	return &Window{now: time.Now, sleep: SleepCtx}
}

// Set arms the window to now + d
func (w *Window) Set(d time.Duration) {
	t := w.now().Add(d)
	w.deadline.Store(&t)
}

// Clear disarms the window
func (w *Window) Clear() {
	w.deadline.Store(nil)
}

// Until returns the armed deadline and whether one is set
func (w *Window) Until() (time.Time, bool) {
	p := w.deadline.Load()
	if p == nil {
		return time.Time{}, false
	}
	return *p, true
}

// Wait blocks until the armed deadline passes, or returns immediately when the
// window is unset or already expired
func (w *Window) Wait(ctx context.Context) error {
	p := w.deadline.Load()
	if p == nil {
		return nil
	}
	d := p.Sub(w.now())
	if d <= 0 {
		return nil
	}
	return w.sleep(ctx, d)
}

// SleepCtx sleeps for d or until ctx is cancelled, whichever comes first
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process-wide window registry, keyed by (base URL, credential).
// Lookups are lock-free after first insertion
var windows sync.Map // string -> *Window

// WindowFor returns the shared window for a (baseURL, credential) pair,
// creating it on first use. Coordinators sharing the pair share the window
func WindowFor(baseURL, credential string) *Window {
	key := baseURL + "\x00" + credential
	if v, ok := windows.Load(key); ok {
		return v.(*Window)
	}
	v, _ := windows.LoadOrStore(key, NewWindow())
	return v.(*Window)
}
