// Package future provides a single-assignment result that many goroutines can wait on.
package future

import (
	"context"
	"sync"
)

// Future holds a value and error that are set exactly once.
//
// The zero value is not usable; create one with New or Completed.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New creates an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already resolved with value and err.
func Completed[T any](value T, err error) *Future[T] {
	f := New[T]()
	f.Complete(value, err)

	return f
}

// Complete resolves the future. Only the first call has an effect.
//
// Returns:
//   - bool: true if this call resolved the future
func (f *Future[T]) Complete(value T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		resolved = true
	})

	return resolved
}

// Done returns a channel closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future is resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future is resolved or ctx is done.
//
// Returns:
//   - T: The resolved value (zero value when ctx ended first)
//   - error: The resolved error, or ctx.Err()
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the resolved value and error without blocking.
//
// Returns:
//   - T, error: The resolution
//   - bool: false if the future is not resolved yet
func (f *Future[T]) Result() (T, error, bool) { //nolint:revive // ok flag last reads better here
	if !f.IsDone() {
		var zero T
		return zero, nil, false
	}

	return f.value, f.err, true
}

// Then runs fn in a new goroutine once f resolves and returns a future for its result.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	next := New[U]()
	go func() {
		<-f.done
		next.Complete(fn(f.value, f.err))
	}()

	return next
}
