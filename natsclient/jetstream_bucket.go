package natsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// jetStreamBucket adapts a jetstream.KeyValue to Bucket.
type jetStreamBucket struct {
	kv jetstream.KeyValue
}

// NewJetStreamBucket wraps a JetStream KV bucket.
func NewJetStreamBucket(kv jetstream.KeyValue) Bucket {
	return &jetStreamBucket{kv: kv}
}

func (b *jetStreamBucket) Name() string {
	return b.kv.Bucket()
}

func (b *jetStreamBucket) Get(ctx context.Context, key string) (*KVEntry, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, ErrKVKeyNotFound
		}
		return nil, err
	}
	return convertEntry(entry), nil
}

func (b *jetStreamBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Put(ctx, key, value)
}

func (b *jetStreamBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, err
	}
	return rev, nil
}

func (b *jetStreamBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := b.kv.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, err
	}
	return rev, nil
}

func (b *jetStreamBucket) Delete(ctx context.Context, key string) error {
	err := b.kv.Delete(ctx, key)
	if err != nil && IsKVNotFoundError(err) {
		return ErrKVKeyNotFound
	}
	return err
}

func (b *jetStreamBucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

func (b *jetStreamBucket) Watch(ctx context.Context, pattern string, opts WatchOptions) (Watcher, error) {
	var watchOpts []jetstream.WatchOpt
	if opts.FromRevision > 0 {
		watchOpts = append(watchOpts, jetstream.ResumeFromRevision(opts.FromRevision))
	} else {
		watchOpts = append(watchOpts, jetstream.UpdatesOnly())
	}
	if pattern == "" {
		pattern = ">"
	}

	kw, err := b.kv.Watch(ctx, pattern, watchOpts...)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}

	w := &jetStreamWatcher{
		kw:      kw,
		updates: make(chan *KVEntry, 64),
		stopped: make(chan struct{}),
	}
	go w.forward()
	return w, nil
}

func convertEntry(entry jetstream.KeyValueEntry) *KVEntry {
	op := KVPut
	switch entry.Operation() {
	case jetstream.KeyValueDelete:
		op = KVDelete
	case jetstream.KeyValuePurge:
		op = KVPurge
	}
	return &KVEntry{
		Key:       entry.Key(),
		Value:     entry.Value(),
		Revision:  entry.Revision(),
		Operation: op,
		Created:   entry.Created(),
	}
}

// jetStreamWatcher drops the end-of-initial-values marker and reports an
// unexpected close of the underlying watcher through Err.
type jetStreamWatcher struct {
	kw      jetstream.KeyWatcher
	updates chan *KVEntry
	stopped chan struct{}

	mu       sync.Mutex
	stopOnce sync.Once
	err      error
}

func (w *jetStreamWatcher) forward() {
	defer close(w.updates)
	for {
		select {
		case <-w.stopped:
			return
		case entry, ok := <-w.kw.Updates():
			if !ok {
				select {
				case <-w.stopped:
				default:
					w.mu.Lock()
					w.err = ErrWatcherClosed
					w.mu.Unlock()
				}
				return
			}
			if entry == nil {
				continue
			}
			select {
			case w.updates <- convertEntry(entry):
			case <-w.stopped:
				return
			}
		}
	}
}

func (w *jetStreamWatcher) Updates() <-chan *KVEntry {
	return w.updates
}

func (w *jetStreamWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopped)
		err = w.kw.Stop()
	})
	return err
}

func (w *jetStreamWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
