package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/configstore/docstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/metric"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/pkg/cache"
	"github.com/c360/configstore/pkg/retry"
)

// Event is a change observed on the feed, narrowed to the cache scope it
// affects.
type Event struct {
	Collection string
	Key        string
	Scope      cache.Scope
	Revision   uint64
	Operation  natsclient.KVOp
}

// Handler reacts to feed events.
type Handler interface {
	// Invalidate drops the cached scope. It runs on the feed goroutine before
	// the next event is read.
	Invalidate(ev Event)
	// Reload warms the scope again. It runs asynchronously; Stop waits for it.
	Reload(ctx context.Context, ev Event) error
	// Resync reloads the whole collection. It is called when the feed was
	// reopened without a resume point and changes may have been missed.
	Resync(ctx context.Context, collection string) error
}

// FatalFunc receives the error of a watcher that exhausted its retry budget.
type FatalFunc func(collection string, err error)

// Option configures a Watcher.
type Option func(*Watcher)

// WithTokenStore persists resume tokens in store.
func WithTokenStore(store TokenStore) Option {
	return func(w *Watcher) { w.tokens = store }
}

// WithRetry sets the reconnection policy. MaxAttempts bounds consecutive
// failed reopen attempts.
func WithRetry(cfg retry.Config) Option {
	return func(w *Watcher) { w.retryCfg = cfg }
}

// WithOnFatal sets the callback for an exhausted retry budget.
func WithOnFatal(fn FatalFunc) Option {
	return func(w *Watcher) { w.onFatal = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records events, states and retries.
func WithMetrics(m *metric.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// Watcher follows the change feed of one collection bucket and keeps the
// cache coherent with it.
type Watcher struct {
	collection string
	kv         *natsclient.KVStore
	handler    Handler
	tokens     TokenStore
	retryCfg   retry.Config
	onFatal    FatalFunc
	logger     *slog.Logger
	metrics    *metric.Metrics

	state        atomic.Int32
	lastRevision atomic.Uint64
	dispatched   atomic.Uint64

	mu          sync.Mutex
	transitions []Transition
	cancel      context.CancelFunc
	done        chan struct{}
	fatal       error
	inflight    sync.WaitGroup
}

// New creates a stopped watcher for collection on kv.
func New(collection string, kv *natsclient.KVStore, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		collection: collection,
		kv:         kv,
		handler:    handler,
		retryCfg:   retry.DefaultConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "changefeed", "collection", collection)
	return w
}

// Collection returns the watched collection.
func (w *Watcher) Collection() string { return w.collection }

// State returns the current state.
func (w *Watcher) State() State { return State(w.state.Load()) }

// Transitions returns the state changes since the watcher was created.
func (w *Watcher) Transitions() []Transition {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Transition(nil), w.transitions...)
}

// Revision returns the revision of the last dispatched event.
func (w *Watcher) Revision() uint64 { return w.lastRevision.Load() }

// Dispatched returns how many events were dispatched.
func (w *Watcher) Dispatched() uint64 { return w.dispatched.Load() }

// Err returns the fatal error of the last run, if the retry budget ran out.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fatal
}

func (w *Watcher) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	if prev == s {
		return
	}
	w.mu.Lock()
	w.transitions = append(w.transitions, Transition{From: prev, To: s})
	w.mu.Unlock()
	w.metrics.RecordChangeFeedState(w.collection, int(s))
	w.logger.Debug("Change feed state changed", "from", prev.String(), "to", s.String())
}

// Start opens the feed from the persisted resume token, or from now when
// there is none. A failed first open is retried in the background like any
// later failure. Start on a running watcher is an illegal-state error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return errors.IllegalState(errors.ErrAlreadyInitialized, "Watcher", "Start", "start "+w.collection)
	}
	backoff, err := retry.NewBackoff(w.retryCfg)
	if err != nil {
		w.mu.Unlock()
		return errors.WrapInvalid(err, "Watcher", "Start", "build backoff")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	w.fatal = nil
	done := w.done
	w.mu.Unlock()

	w.setState(StateStarting)

	if w.tokens != nil && w.lastRevision.Load() == 0 {
		token, ok, err := w.tokens.Load(ctx, w.collection)
		switch {
		case err != nil:
			w.logger.Warn("Failed to load resume token, starting from now", "error", err)
		case ok:
			w.lastRevision.Store(token)
		}
	}

	feed, err := w.open(ctx)
	if err != nil {
		w.logger.Warn("Failed to open change feed", "error", err)
		w.setState(StateRecovering)
	} else {
		w.setState(StateWatching)
		w.logger.Info("Change feed started", "from_revision", w.lastRevision.Load())
	}

	go w.run(runCtx, done, feed, backoff)
	return nil
}

// Stop cancels the feed and waits until the loop and every in-flight reload
// have returned. Stopping a stopped watcher is a no-op.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Watcher", "Stop", "wait for feed loop")
	}

	drained := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Watcher", "Stop", "wait for in-flight reloads")
	}

	w.mu.Lock()
	if w.done == done {
		w.done = nil
		w.cancel = nil
	}
	w.mu.Unlock()
	w.logger.Info("Change feed stopped", "revision", w.lastRevision.Load())
	return nil
}

func (w *Watcher) open(ctx context.Context) (natsclient.Watcher, error) {
	from := w.lastRevision.Load()
	if from > 0 {
		from++
	}
	return w.kv.WatchFrom(ctx, ">", from)
}

func (w *Watcher) run(ctx context.Context, done chan struct{}, feed natsclient.Watcher, backoff *retry.Backoff) {
	defer close(done)
	defer func() {
		if w.Err() == nil {
			w.setState(StateStopped)
		}
	}()

	for {
		if feed != nil {
			err := w.consume(ctx, feed)
			_ = feed.Stop()
			feed = nil
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("Change feed lost", "error", err, "revision", w.lastRevision.Load())
			w.setState(StateRecovering)
		}

		delay, ok := backoff.Next()
		if !ok {
			w.fail(backoff.Attempts())
			return
		}
		w.metrics.RecordChangeFeedRetry(w.collection)
		if err := retry.Sleep(ctx, delay); err != nil {
			return
		}

		resumable := w.lastRevision.Load() > 0
		next, err := w.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("Failed to reopen change feed",
				"attempt", backoff.Attempts(), "error", err)
			continue
		}
		feed = next
		backoff.Reset()
		w.setState(StateWatching)
		w.logger.Info("Change feed recovered", "from_revision", w.lastRevision.Load())

		if !resumable {
			w.resync(ctx)
		}
	}
}

func (w *Watcher) consume(ctx context.Context, feed natsclient.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-feed.Updates():
			if !ok {
				if err := feed.Err(); err != nil {
					return err
				}
				return natsclient.ErrWatcherClosed
			}
			if entry == nil {
				continue
			}
			w.dispatch(ctx, entry)
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, entry *natsclient.KVEntry) {
	defer w.advance(ctx, entry.Revision)

	kind, lang := docstore.ParseKey(entry.Key)
	var scope cache.Scope
	switch kind {
	case docstore.KeyConfig:
		scope = cache.ConfigScope(w.collection)
	case docstore.KeyMessages:
		scope = cache.MessageScope(w.collection, lang)
	default:
		return
	}

	ev := Event{
		Collection: w.collection,
		Key:        entry.Key,
		Scope:      scope,
		Revision:   entry.Revision,
		Operation:  entry.Operation,
	}
	w.metrics.RecordChangeEvent(w.collection, entry.Operation.String())
	w.logger.Debug("Change observed", "key", entry.Key, "op", entry.Operation.String(), "revision", entry.Revision)

	w.handler.Invalidate(ev)
	w.dispatched.Add(1)

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		if err := w.handler.Reload(ctx, ev); err != nil && ctx.Err() == nil {
			w.logger.Warn("Reload after change failed", "scope", ev.Scope.String(), "error", err)
		}
	}()
}

func (w *Watcher) advance(ctx context.Context, revision uint64) {
	w.lastRevision.Store(revision)
	if w.tokens == nil {
		return
	}
	if err := w.tokens.Save(ctx, w.collection, revision); err != nil && ctx.Err() == nil {
		w.logger.Warn("Failed to persist resume token", "revision", revision, "error", err)
	}
}

func (w *Watcher) resync(ctx context.Context) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		if err := w.handler.Resync(ctx, w.collection); err != nil && ctx.Err() == nil {
			w.logger.Warn("Resync after recovery failed", "error", err)
		}
	}()
}

func (w *Watcher) fail(attempts int) {
	err := errors.ChangeFeedFatal(
		fmt.Errorf("%w: gave up after %d reconnect attempts", errors.ErrConnectionLost, attempts),
		"Watcher", "run", "reopen change feed for "+w.collection)

	w.mu.Lock()
	w.fatal = err
	w.mu.Unlock()
	w.setState(StateStopped)

	w.metrics.RecordError("changefeed", errors.KindChangeFeedFatal.String())
	w.logger.Error("Change feed stopped permanently, cached data may go stale", "error", err)
	if w.onFatal != nil {
		w.onFatal(w.collection, err)
	}
}
