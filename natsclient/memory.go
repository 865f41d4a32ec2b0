package natsclient

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryKV is an in-process BucketProvider with JetStream KV semantics:
// bucket-global revisions, compare-and-swap updates, delete markers, and
// watchers that can resume from any retained revision. It backs standalone
// mode and every unit test that needs a document database.
type MemoryKV struct {
	mu       sync.Mutex
	buckets  map[string]*MemoryBucket
	openErrs map[string]error
	now      func() time.Time
}

// NewMemoryKV creates an empty in-memory provider.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		buckets:  make(map[string]*MemoryBucket),
		openErrs: make(map[string]error),
		now:      time.Now,
	}
}

// OpenBucket returns the named bucket, creating it on first use.
func (m *MemoryKV) OpenBucket(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.bucket(name)
}

func (m *MemoryKV) bucket(name string) (*MemoryBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openErrs[name]; err != nil {
		return nil, err
	}
	b, ok := m.buckets[name]
	if !ok {
		b = newMemoryBucket(name, m.now)
		m.buckets[name] = b
	}
	return b, nil
}

// Bucket returns the named bucket, creating it on first use.
func (m *MemoryKV) Bucket(name string) *MemoryBucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		b = newMemoryBucket(name, m.now)
		m.buckets[name] = b
	}
	return b
}

// FailOpen makes OpenBucket fail for name until cleared with a nil error.
func (m *MemoryKV) FailOpen(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.openErrs, name)
		return
	}
	m.openErrs[name] = err
}

// BucketNames lists the buckets opened so far.
func (m *MemoryKV) BucketNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MemoryBucket is a single in-memory bucket.
type MemoryBucket struct {
	name string
	now  func() time.Time

	mu       sync.Mutex
	revision uint64
	latest   map[string]*KVEntry
	history  []*KVEntry
	watchers map[*memoryWatcher]struct{}

	failWatch   int
	watchErr    error
	failOps     map[string]int
	failOpsErr  map[string]error
	watchOpened int
}

func newMemoryBucket(name string, now func() time.Time) *MemoryBucket {
	return &MemoryBucket{
		name:       name,
		now:        now,
		latest:     make(map[string]*KVEntry),
		watchers:   make(map[*memoryWatcher]struct{}),
		failOps:    make(map[string]int),
		failOpsErr: make(map[string]error),
	}
}

// Name returns the bucket name.
func (b *MemoryBucket) Name() string {
	return b.name
}

// FailNextWatch makes the next n Watch calls fail with err.
func (b *MemoryBucket) FailNextWatch(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWatch = n
	b.watchErr = err
}

// FailNext makes the next n calls of op ("get", "put", "create", "update",
// "delete", "keys") fail with err.
func (b *MemoryBucket) FailNext(op string, n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOps[op] = n
	b.failOpsErr[op] = err
}

// SeverWatchers terminates every live watcher with err, as a dropped
// connection would.
func (b *MemoryBucket) SeverWatchers(err error) {
	b.mu.Lock()
	ws := make([]*memoryWatcher, 0, len(b.watchers))
	for w := range b.watchers {
		ws = append(ws, w)
	}
	b.watchers = make(map[*memoryWatcher]struct{})
	b.mu.Unlock()

	for _, w := range ws {
		w.terminate(err)
	}
}

// ActiveWatchers returns the number of live watchers.
func (b *MemoryBucket) ActiveWatchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// WatchesOpened returns how many watchers have been opened successfully.
func (b *MemoryBucket) WatchesOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watchOpened
}

// Revision returns the latest bucket revision.
func (b *MemoryBucket) Revision() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revision
}

// injected must be called with mu held.
func (b *MemoryBucket) injected(op string) error {
	if b.failOps[op] <= 0 {
		return nil
	}
	b.failOps[op]--
	return b.failOpsErr[op]
}

func (b *MemoryBucket) Get(ctx context.Context, key string) (*KVEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injected("get"); err != nil {
		return nil, err
	}
	e, ok := b.latest[key]
	if !ok || e.Operation != KVPut {
		return nil, ErrKVKeyNotFound
	}
	return copyEntry(e), nil
}

func (b *MemoryBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	if err := b.injected("put"); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	e := b.appendLocked(key, value, KVPut)
	ws := b.watchersLocked()
	b.mu.Unlock()
	b.notify(ws, e)
	return e.Revision, nil
}

func (b *MemoryBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	if err := b.injected("create"); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	if cur, ok := b.latest[key]; ok && cur.Operation == KVPut {
		b.mu.Unlock()
		return 0, ErrKVKeyExists
	}
	e := b.appendLocked(key, value, KVPut)
	ws := b.watchersLocked()
	b.mu.Unlock()
	b.notify(ws, e)
	return e.Revision, nil
}

func (b *MemoryBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	if err := b.injected("update"); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	cur, ok := b.latest[key]
	if !ok || cur.Revision != revision {
		b.mu.Unlock()
		return 0, ErrKVRevisionMismatch
	}
	e := b.appendLocked(key, value, KVPut)
	ws := b.watchersLocked()
	b.mu.Unlock()
	b.notify(ws, e)
	return e.Revision, nil
}

func (b *MemoryBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if err := b.injected("delete"); err != nil {
		b.mu.Unlock()
		return err
	}
	if cur, ok := b.latest[key]; !ok || cur.Operation != KVPut {
		b.mu.Unlock()
		return ErrKVKeyNotFound
	}
	e := b.appendLocked(key, nil, KVDelete)
	ws := b.watchersLocked()
	b.mu.Unlock()
	b.notify(ws, e)
	return nil
}

func (b *MemoryBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.injected("keys"); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(b.latest))
	for k, e := range b.latest {
		if e.Operation == KVPut {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBucket) Watch(ctx context.Context, pattern string, opts WatchOptions) (Watcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = ">"
	}

	b.mu.Lock()
	if b.failWatch > 0 {
		b.failWatch--
		err := b.watchErr
		b.mu.Unlock()
		return nil, err
	}

	w := &memoryWatcher{
		bucket:  b,
		pattern: pattern,
		updates: make(chan *KVEntry, 256),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	if opts.FromRevision > 0 {
		for _, e := range b.history {
			if e.Revision >= opts.FromRevision && MatchKey(pattern, e.Key) {
				w.pending = append(w.pending, copyEntry(e))
			}
		}
	}
	b.watchers[w] = struct{}{}
	b.watchOpened++
	b.mu.Unlock()

	go w.pump()
	return w, nil
}

// appendLocked must be called with mu held.
func (b *MemoryBucket) appendLocked(key string, value []byte, op KVOp) *KVEntry {
	b.revision++
	v := make([]byte, len(value))
	copy(v, value)
	e := &KVEntry{
		Key:       key,
		Value:     v,
		Revision:  b.revision,
		Operation: op,
		Created:   b.now(),
	}
	b.latest[key] = e
	b.history = append(b.history, e)
	return e
}

func (b *MemoryBucket) watchersLocked() []*memoryWatcher {
	ws := make([]*memoryWatcher, 0, len(b.watchers))
	for w := range b.watchers {
		ws = append(ws, w)
	}
	return ws
}

func (b *MemoryBucket) notify(ws []*memoryWatcher, e *KVEntry) {
	for _, w := range ws {
		if MatchKey(w.pattern, e.Key) {
			w.enqueue(copyEntry(e))
		}
	}
}

func (b *MemoryBucket) removeWatcher(w *memoryWatcher) {
	b.mu.Lock()
	delete(b.watchers, w)
	b.mu.Unlock()
}

func copyEntry(e *KVEntry) *KVEntry {
	c := *e
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return &c
}

// memoryWatcher buffers entries without bound so writers never block on a
// slow consumer; pump delivers them in revision order.
type memoryWatcher struct {
	bucket  *MemoryBucket
	pattern string
	updates chan *KVEntry
	done    chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*KVEntry
	closed  bool
	err     error
	once    sync.Once
}

func (w *memoryWatcher) enqueue(e *KVEntry) {
	w.mu.Lock()
	if !w.closed {
		w.pending = append(w.pending, e)
		w.cond.Signal()
	}
	w.mu.Unlock()
}

func (w *memoryWatcher) pump() {
	defer close(w.updates)
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			return
		}
		e := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		select {
		case w.updates <- e:
		case <-w.done:
			return
		}
	}
}

func (w *memoryWatcher) terminate(err error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.err = err
		w.pending = nil
		w.cond.Broadcast()
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *memoryWatcher) Updates() <-chan *KVEntry {
	return w.updates
}

func (w *memoryWatcher) Stop() error {
	w.bucket.removeWatcher(w)
	w.terminate(nil)
	return nil
}

func (w *memoryWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
