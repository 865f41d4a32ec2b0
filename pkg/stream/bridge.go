package stream

import "sync"

// First completes with the first item p emits, or absent if p completes
// empty. Exactly one item is requested and upstream is cancelled afterwards.
func First[T any](p Publisher[T]) *Future[T] {
	f := NewFuture[T]()
	p.Subscribe(&firstSubscriber[T]{f: f})
	return f
}

type firstSubscriber[T any] struct {
	f   *Future[T]
	mu  sync.Mutex
	sub Subscription
}

func (s *firstSubscriber[T]) OnSubscribe(sub Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	if !s.f.attach(sub) {
		return
	}
	sub.Request(1)
}

func (s *firstSubscriber[T]) OnNext(item T) {
	if s.f.Complete(item) {
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
	}
}

func (s *firstSubscriber[T]) OnError(err error) {
	s.f.Fail(err)
}

func (s *firstSubscriber[T]) OnComplete() {
	s.f.CompleteAbsent()
}

// Last completes with the final item p emits before completing, or absent if
// p completes empty. Items are requested one at a time.
func Last[T any](p Publisher[T]) *Future[T] {
	f := NewFuture[T]()
	p.Subscribe(&lastSubscriber[T]{f: f})
	return f
}

type lastSubscriber[T any] struct {
	f    *Future[T]
	mu   sync.Mutex
	sub  Subscription
	last T
	seen bool
}

func (s *lastSubscriber[T]) OnSubscribe(sub Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	if !s.f.attach(sub) {
		return
	}
	sub.Request(1)
}

func (s *lastSubscriber[T]) OnNext(item T) {
	s.mu.Lock()
	s.last = item
	s.seen = true
	sub := s.sub
	s.mu.Unlock()
	if sub != nil && !s.f.IsDone() {
		sub.Request(1)
	}
}

func (s *lastSubscriber[T]) OnError(err error) {
	s.f.Fail(err)
}

func (s *lastSubscriber[T]) OnComplete() {
	s.mu.Lock()
	last, seen := s.last, s.seen
	s.mu.Unlock()
	if !seen {
		s.f.CompleteAbsent()
		return
	}
	s.f.Complete(last)
}

// Collect completes with every item p emits, requesting them one at a time.
func Collect[T any](p Publisher[T]) *Future[[]T] {
	f := NewFuture[[]T]()
	p.Subscribe(&collectSubscriber[T]{f: f})
	return f
}

type collectSubscriber[T any] struct {
	f     *Future[[]T]
	mu    sync.Mutex
	sub   Subscription
	items []T
}

func (s *collectSubscriber[T]) OnSubscribe(sub Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	if !s.f.attach(sub) {
		return
	}
	sub.Request(1)
}

func (s *collectSubscriber[T]) OnNext(item T) {
	s.mu.Lock()
	s.items = append(s.items, item)
	sub := s.sub
	s.mu.Unlock()
	if sub != nil && !s.f.IsDone() {
		sub.Request(1)
	}
}

func (s *collectSubscriber[T]) OnError(err error) {
	s.f.Fail(err)
}

func (s *collectSubscriber[T]) OnComplete() {
	s.mu.Lock()
	items := s.items
	s.mu.Unlock()
	if items == nil {
		items = []T{}
	}
	s.f.Complete(items)
}
