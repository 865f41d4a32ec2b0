package stream

import (
	"context"
	"math"
	"sync"
)

// Subscription links a subscriber to a publisher. Request signals demand for
// n more items. Cancel stops delivery; it is idempotent.
type Subscription interface {
	Request(n int64)
	Cancel()
}

// Subscriber receives items from a Publisher. OnSubscribe is called first,
// then up to the requested number of OnNext calls, then at most one of
// OnError or OnComplete.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(item T)
	OnError(err error)
	OnComplete()
}

// Publisher is a source of items that honours subscriber demand.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc[T any] func(s Subscriber[T])

// Subscribe calls fn(s).
func (fn PublisherFunc[T]) Subscribe(s Subscriber[T]) {
	fn(s)
}

// demand tracks outstanding requests for one subscription.
type demand struct {
	mu      sync.Mutex
	pending int64
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newDemand() *demand {
	return &demand{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *demand) Request(n int64) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	if d.pending > math.MaxInt64-n {
		d.pending = math.MaxInt64
	} else {
		d.pending += n
	}
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *demand) Cancel() {
	d.once.Do(func() { close(d.done) })
}

// wait blocks until there is outstanding demand. When take is set one unit
// of demand is consumed. It returns false once the subscription is cancelled.
func (d *demand) wait(take bool) bool {
	for {
		select {
		case <-d.done:
			return false
		default:
		}
		d.mu.Lock()
		if d.pending > 0 {
			if take {
				d.pending--
			}
			d.mu.Unlock()
			return true
		}
		d.mu.Unlock()
		select {
		case <-d.wake:
		case <-d.done:
			return false
		}
	}
}

// Generate builds a cold publisher. Each subscription runs fn on its own
// goroutine once the subscriber first signals demand. emit blocks until the
// subscriber requests an item and returns false when the subscription is
// cancelled; fn should return promptly after that. The context passed to fn
// is cancelled with the subscription. A nil return completes the stream.
func Generate[T any](fn func(ctx context.Context, emit func(T) bool) error) Publisher[T] {
	return PublisherFunc[T](func(sub Subscriber[T]) {
		d := newDemand()
		sub.OnSubscribe(d)

		go func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				select {
				case <-d.done:
					cancel()
				case <-ctx.Done():
				}
			}()

			if !d.wait(false) {
				return
			}

			emit := func(item T) bool {
				if !d.wait(true) {
					return false
				}
				sub.OnNext(item)
				return true
			}

			err := fn(ctx, emit)

			select {
			case <-d.done:
				return
			default:
			}
			if err != nil {
				sub.OnError(err)
				return
			}
			sub.OnComplete()
		}()
	})
}

// Just emits items in order, then completes.
func Just[T any](items ...T) Publisher[T] {
	return Generate(func(_ context.Context, emit func(T) bool) error {
		for _, item := range items {
			if !emit(item) {
				return nil
			}
		}
		return nil
	})
}

// Empty completes without emitting.
func Empty[T any]() Publisher[T] {
	return Generate(func(context.Context, func(T) bool) error { return nil })
}

// Fail signals err without emitting.
func Fail[T any](err error) Publisher[T] {
	return Generate(func(context.Context, func(T) bool) error { return err })
}

// FromFunc defers a single lookup until demand arrives. When fn reports the
// value as not present the publisher completes empty.
func FromFunc[T any](fn func(ctx context.Context) (T, bool, error)) Publisher[T] {
	return Generate(func(ctx context.Context, emit func(T) bool) error {
		v, ok, err := fn(ctx)
		if err != nil {
			return err
		}
		if ok {
			emit(v)
		}
		return nil
	})
}

// FromChannel emits every value received from ch until it is closed.
func FromChannel[T any](ch <-chan T) Publisher[T] {
	return Generate(func(ctx context.Context, emit func(T) bool) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case v, ok := <-ch:
				if !ok {
					return nil
				}
				if !emit(v) {
					return nil
				}
			}
		}
	})
}
