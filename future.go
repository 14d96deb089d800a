package tinker

import "context"

// Future is an in-flight operation. Result blocks for the outcome; Done is a
// select-friendly completion signal. Futures are single-shot but Result may be
// called any number of times
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func goFuture[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}

// Done is closed when the result is available
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result waits for the outcome or for ctx. Abandoning via ctx does not cancel
// the underlying operation; pass the same ctx to the dispatching call for that
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
