package natsclient

import (
	"context"
	"errors"
	"strings"
	"time"
)

// KVOp is the kind of change recorded for a key.
type KVOp int

const (
	// KVPut records a created or replaced value.
	KVPut KVOp = iota
	// KVDelete records a delete marker.
	KVDelete
	// KVPurge records a purge marker.
	KVPurge
)

// String returns the string representation of KVOp
func (op KVOp) String() string {
	switch op {
	case KVPut:
		return "put"
	case KVDelete:
		return "delete"
	case KVPurge:
		return "purge"
	default:
		return "unknown"
	}
}

// KVEntry wraps a KV entry with its revision for CAS operations. Revision is
// bucket-global: it increases across every key in the bucket.
type KVEntry struct {
	Key       string
	Value     []byte
	Revision  uint64
	Operation KVOp
	Created   time.Time
}

// Bucket is the primitive key/value surface shared by JetStream buckets and
// the in-memory implementation.
type Bucket interface {
	Name() string
	Get(ctx context.Context, key string) (*KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Watch(ctx context.Context, pattern string, opts WatchOptions) (Watcher, error)
}

// WatchOptions selects where a watch starts.
type WatchOptions struct {
	// FromRevision replays every change at or after this revision before
	// following live updates. Zero starts from now and delivers only new
	// changes.
	FromRevision uint64
}

// Watcher streams changes for a key pattern. Updates is closed when the
// watcher stops; Err then reports why, nil after a caller-initiated Stop.
type Watcher interface {
	Updates() <-chan *KVEntry
	Stop() error
	Err() error
}

// BucketProvider opens buckets by name, creating them when missing.
type BucketProvider interface {
	OpenBucket(ctx context.Context, name string) (Bucket, error)
}

// Well-known errors
var (
	ErrKVKeyNotFound        = errors.New("kv: key not found")
	ErrKVKeyExists          = errors.New("kv: key already exists")
	ErrKVRevisionMismatch   = errors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = errors.New("kv: max retries exceeded")
	ErrKVNoKeys             = errors.New("kv: no keys found")
	ErrWatcherClosed        = errors.New("kv: watcher closed unexpectedly")
)

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyNotFound) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") ||
		strings.Contains(errMsg, "10037")
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVRevisionMismatch) || errors.Is(err, ErrKVKeyExists) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "wrong last sequence") ||
		strings.Contains(errMsg, "10071") ||
		strings.Contains(errMsg, "key exists") ||
		strings.Contains(errMsg, "10058")
}

// MatchKey reports whether key matches a NATS-style pattern where '*' matches
// one dot-separated token and a trailing '>' matches one or more tokens.
func MatchKey(pattern, key string) bool {
	if pattern == "" || pattern == ">" {
		return key != ""
	}
	pt := strings.Split(pattern, ".")
	kt := strings.Split(key, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(kt) > i
		}
		if i >= len(kt) {
			return false
		}
		if p != "*" && p != kt[i] {
			return false
		}
	}
	return len(pt) == len(kt)
}

// SanitizeBucketName maps an arbitrary name onto the characters JetStream
// accepts in bucket names.
func SanitizeBucketName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
