// Package worker provides the bounded worker pool that runs asynchronous
// store operations.
//
// # Overview
//
// Pool[T] owns a fixed number of goroutines that consume a bounded queue of
// work items. Statistics are always tracked with atomics; Prometheus metrics
// are registered only when WithMetricsRegistry is supplied.
//
// Two submission modes exist:
//   - Submit never blocks and returns ErrQueueFull when the queue is at capacity
//   - SubmitWait blocks for queue space until the context is done or the pool stops
//
// Stop refuses new work, lets workers drain items that were already accepted,
// and waits up to the given timeout.
//
// # Futures
//
// A Pool[Task] runs arbitrary closures. Go and Do wrap a closure in a
// stream.Future so callers can await the result or cancel the operation:
//
//	pool := worker.NewTaskPool(8, 256)
//	_ = pool.Start(ctx)
//
//	f := worker.Go(ctx, pool, func(ctx context.Context) (*Doc, bool, error) {
//	    return store.Load(ctx, id)
//	})
//	doc, ok, err := f.Await(ctx)
//
// Cancelling the future cancels the context the closure runs with. If the
// pool cannot accept the task the future fails with the submission error.
package worker
