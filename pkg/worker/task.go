package worker

import (
	"context"

	"github.com/c360/configstore/pkg/stream"
)

// Task is a unit of asynchronous work.
type Task func(ctx context.Context) error

// NewTaskPool creates a pool that runs Tasks.
func NewTaskPool(workers, queueSize int, opts ...Option[Task]) *Pool[Task] {
	return NewPool(workers, queueSize, func(ctx context.Context, t Task) error {
		return t(ctx)
	}, opts...)
}

// Go schedules fn on the pool and returns a future for its result. fn
// reports whether its value is present. Cancelling the future cancels the
// context fn runs with. When the pool cannot accept the task the future
// fails with the submission error.
func Go[R any](ctx context.Context, p *Pool[Task], fn func(ctx context.Context) (R, bool, error)) *stream.Future[R] {
	f := stream.NewFuture[R]()
	taskCtx, cancel := context.WithCancel(ctx)
	f.OnCancel(cancel)

	task := func(workerCtx context.Context) error {
		defer cancel()
		if f.IsDone() {
			return nil
		}
		// Stop when either the caller or the pool gives up.
		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()

		v, ok, err := fn(taskCtx)
		switch {
		case err != nil:
			f.Fail(err)
		case ok:
			f.Complete(v)
		default:
			f.CompleteAbsent()
		}
		return err
	}

	if err := p.SubmitWait(ctx, task); err != nil {
		cancel()
		f.Fail(err)
	}
	return f
}

// Do is Go for operations without a result value.
func Do(ctx context.Context, p *Pool[Task], fn func(ctx context.Context) error) *stream.Future[struct{}] {
	return Go(ctx, p, func(ctx context.Context) (struct{}, bool, error) {
		return struct{}{}, true, fn(ctx)
	})
}
