package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/configstore/pkg/retry"
	"github.com/c360/configstore/pkg/stream"
)

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries            int           // Maximum CAS retry attempts
	RetryDelay            time.Duration // Initial delay between retries
	Timeout               time.Duration // Operation timeout
	MaxValueSize          int           // Maximum size for values (default: 1MB)
	UseExponentialBackoff bool          // Enable exponential backoff with jitter
	MaxRetryDelay         time.Duration // Maximum delay between retries
}

// DefaultKVOptions returns defaults tuned for documents written by several processes
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:            10,
		RetryDelay:            10 * time.Millisecond,
		Timeout:               5 * time.Second,
		MaxValueSize:          1024 * 1024,
		UseExponentialBackoff: true,
		MaxRetryDelay:         time.Second,
	}
}

// KVStore provides high-level KV operations with built-in CAS support
type KVStore struct {
	bucket  Bucket
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore creates a KV store over bucket
func NewKVStore(bucket Bucket, logger *slog.Logger, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  logger.With("bucket", bucket.Name()),
	}
}

// Bucket returns the underlying bucket
func (kv *KVStore) Bucket() Bucket {
	return kv.bucket
}

// Name returns the bucket name
func (kv *KVStore) Name() string {
	return kv.bucket.Name()
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision for CAS operations
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry, nil
}

// Put creates or updates a key without revision check (last writer wins)
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}

	kv.logger.Debug("kv put", "key", key, "revision", rev)
	return rev, nil
}

// Create only creates if key doesn't exist (returns ErrKVKeyExists if it does)
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}

	kv.logger.Debug("kv create", "key", key, "revision", rev)
	return rev, nil
}

// Update performs CAS update with explicit revision
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}

	kv.logger.Debug("kv update", "key", key, "old_revision", revision, "revision", rev)
	return rev, nil
}

func (kv *KVStore) checkSize(value []byte) error {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return fmt.Errorf("value size validation failed: size %d exceeds maximum %d",
			len(value), kv.options.MaxValueSize)
	}
	return nil
}

func (kv *KVStore) retryConfig() retry.Config {
	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		AddJitter:    true,
		Multiplier:   1.0,
	}
	if kv.options.UseExponentialBackoff {
		cfg.Multiplier = 2.0
	}
	return cfg
}

// UpdateWithRetry performs a read-modify-write with automatic retry on
// conflicts. A missing key is passed to updateFn as nil and created. It
// returns the revision written.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) (uint64, error) {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	cfg := kv.retryConfig()
	attempt := 0

	rev, err := retry.DoWithResult(ctx, cfg, func() (uint64, error) {
		attempt++

		var current []byte
		var revision uint64

		entry, err := kv.bucket.Get(ctx, key)
		switch {
		case err == nil:
			current = entry.Value
			revision = entry.Revision
		case IsKVNotFoundError(err):
		default:
			return 0, fmt.Errorf("kv get failed during update: %w", err)
		}

		next, err := updateFn(current)
		if err != nil {
			return 0, retry.NonRetryable(fmt.Errorf("update function error: %w", err))
		}
		if err := kv.checkSize(next); err != nil {
			return 0, retry.NonRetryable(err)
		}

		var rev uint64
		if revision == 0 {
			rev, err = kv.bucket.Create(ctx, key, next)
		} else {
			rev, err = kv.bucket.Update(ctx, key, next, revision)
		}
		if err == nil {
			return rev, nil
		}
		if IsKVConflictError(err) {
			kv.logger.Debug("kv cas conflict, retrying",
				"key", key, "attempt", attempt, "max_attempts", cfg.MaxAttempts)
			return 0, err
		}
		return 0, fmt.Errorf("kv write failed: %w", err)
	})

	if err != nil && IsKVConflictError(err) {
		return 0, ErrKVMaxRetriesExceeded
	}
	return rev, err
}

// UpdateJSON performs a CAS update on a JSON object with automatic retry
func (kv *KVStore) UpdateJSON(ctx context.Context, key string,
	updateFn func(current map[string]any) error) (uint64, error) {

	return kv.UpdateWithRetry(ctx, key, func(currentBytes []byte) ([]byte, error) {
		current := make(map[string]any)
		if len(currentBytes) > 0 {
			if err := json.Unmarshal(currentBytes, &current); err != nil {
				return nil, fmt.Errorf("unmarshal current: %w", err)
			}
		}
		if err := updateFn(current); err != nil {
			return nil, err
		}
		return json.Marshal(current)
	})
}

// Delete removes a key from the bucket
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}

	kv.logger.Debug("kv delete", "key", key)
	return nil
}

// Keys lists the live keys in the bucket
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// Watch follows new changes for pattern.
// Watch does not apply the operation timeout since watchers are long-lived.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (Watcher, error) {
	return kv.WatchFrom(ctx, pattern, 0)
}

// WatchFrom replays changes from revision onwards, then follows live ones.
// A zero revision starts from now.
func (kv *KVStore) WatchFrom(ctx context.Context, pattern string, revision uint64) (Watcher, error) {
	w, err := kv.bucket.Watch(ctx, pattern, WatchOptions{FromRevision: revision})
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return w, nil
}

// GetPublisher returns a cold publisher that looks key up when demanded and
// emits at most one entry.
func (kv *KVStore) GetPublisher(key string) stream.Publisher[*KVEntry] {
	return stream.FromFunc(func(ctx context.Context) (*KVEntry, bool, error) {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if IsKVNotFoundError(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return entry, true, nil
	})
}

// KeysPublisher returns a cold publisher emitting each key matching pattern.
func (kv *KVStore) KeysPublisher(pattern string) stream.Publisher[string] {
	return stream.Generate(func(ctx context.Context, emit func(string) bool) error {
		keys, err := kv.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if !MatchKey(pattern, k) {
				continue
			}
			if !emit(k) {
				return nil
			}
		}
		return nil
	})
}
