package worker

import "errors"

// Errors returned when store tasks cannot be scheduled or the pool cannot be
// shut down cleanly.
var (
	// ErrPoolNotStarted rejects tasks submitted before Start.
	ErrPoolNotStarted = errors.New("task pool is not running yet")

	// ErrPoolStopped rejects tasks submitted after Stop; pending futures fail with it.
	ErrPoolStopped = errors.New("task pool is shut down")

	ErrPoolAlreadyStarted = errors.New("task pool is already running")

	// ErrQueueFull is returned by Submit when every queue slot holds a pending task.
	ErrQueueFull = errors.New("task queue is full")

	// ErrNilProcessor is the panic value of NewPool without a processor.
	ErrNilProcessor = errors.New("task pool needs a processor")

	// ErrStopTimeout means tasks were still running when the Stop deadline passed.
	ErrStopTimeout = errors.New("tasks still running after stop deadline")
)
