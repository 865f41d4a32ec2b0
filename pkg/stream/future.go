package stream

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Future is the eventual result of an asynchronous store operation. The
// result is a value, an absent marker, or an error.
type Future[T any] struct {
	done      chan struct{}
	completed atomic.Bool

	value   T
	present bool
	err     error

	mu        sync.Mutex
	cancelled bool
	upstream  Subscription
	onCancel  []func()
}

// NewFuture creates an incomplete future. The producer completes it with
// Complete, CompleteAbsent, or Fail.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve returns a future already completed with v.
func Resolve[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v)
	return f
}

// Absent returns a future already completed with no value.
func Absent[T any]() *Future[T] {
	f := NewFuture[T]()
	f.CompleteAbsent()
	return f
}

// Reject returns a future already completed with err.
func Reject[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

func (f *Future[T]) complete(v T, present bool, err error) bool {
	if !f.completed.CompareAndSwap(false, true) {
		return false
	}
	f.value = v
	f.present = present
	f.err = err
	close(f.done)
	return true
}

// Complete completes the future with v. A nil v completes it as absent.
// It reports whether this call completed the future.
func (f *Future[T]) Complete(v T) bool {
	if isNil(v) {
		var zero T
		return f.complete(zero, false, nil)
	}
	return f.complete(v, true, nil)
}

// CompleteAbsent completes the future with no value.
func (f *Future[T]) CompleteAbsent() bool {
	var zero T
	return f.complete(zero, false, nil)
}

// Fail completes the future with err.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.complete(zero, false, err)
}

// Await blocks until the future completes or ctx is done. The boolean is
// false when the result is absent or an error.
func (f *Future[T]) Await(ctx context.Context) (T, bool, error) {
	select {
	case <-f.done:
		return f.value, f.present, f.err
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Join is Await that cancels the future, and with it the upstream, when ctx
// ends first.
func (f *Future[T]) Join(ctx context.Context) (T, bool, error) {
	select {
	case <-f.done:
		return f.value, f.present, f.err
	case <-ctx.Done():
		f.Cancel()
		var zero T
		return zero, false, ctx.Err()
	}
}

// Get blocks until completion and returns the value, treating absence as the zero value.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	v, _, err := f.Await(ctx)
	return v, err
}

// Done is closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed.
func (f *Future[T]) IsDone() bool {
	return f.completed.Load()
}

// OnCancel registers fn to run if the future is cancelled before completion.
// If the future was already cancelled fn runs immediately.
func (f *Future[T]) OnCancel(fn func()) {
	f.mu.Lock()
	if f.cancelled {
		f.mu.Unlock()
		fn()
		return
	}
	f.onCancel = append(f.onCancel, fn)
	f.mu.Unlock()
}

// Cancel completes the future with context.Canceled if it is still pending
// and cancels its upstream subscription.
func (f *Future[T]) Cancel() {
	if !f.Fail(context.Canceled) {
		return
	}
	f.mu.Lock()
	f.cancelled = true
	up := f.upstream
	hooks := f.onCancel
	f.onCancel = nil
	f.mu.Unlock()

	if up != nil {
		up.Cancel()
	}
	for _, fn := range hooks {
		fn()
	}
}

// attach records s as the upstream subscription. It reports false, after
// cancelling s, when the future already completed.
func (f *Future[T]) attach(s Subscription) bool {
	f.mu.Lock()
	f.upstream = s
	f.mu.Unlock()
	if f.IsDone() {
		s.Cancel()
		return false
	}
	return true
}

// Map returns a future completed with fn applied to f's value. Absence and
// errors pass through unchanged. Cancelling the result cancels f.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := NewFuture[U]()
	out.OnCancel(f.Cancel)
	go func() {
		select {
		case <-f.done:
		case <-out.done:
			return
		}
		if f.err != nil {
			out.Fail(f.err)
			return
		}
		if !f.present {
			out.CompleteAbsent()
			return
		}
		u, err := fn(f.value)
		if err != nil {
			out.Fail(err)
			return
		}
		out.Complete(u)
	}()
	return out
}

// isNil reports whether v holds a nil reference.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
