package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
)

// BucketName returns the bucket that stores collection within database.
func BucketName(database, collection string) string {
	return natsclient.SanitizeBucketName(database + "_" + collection)
}

// Router maps collections onto KV buckets and caches the opened stores.
type Router struct {
	provider          natsclient.BucketProvider
	database          string
	defaultCollection string
	kvOptions         []func(*natsclient.KVOptions)
	logger            *slog.Logger

	mu     sync.Mutex
	stores map[string]*natsclient.KVStore
}

// NewRouter creates a router. Collections without a reachable bucket of their
// own fall back to defaultCollection.
func NewRouter(provider natsclient.BucketProvider, database, defaultCollection string,
	logger *slog.Logger, kvOptions ...func(*natsclient.KVOptions)) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		provider:          provider,
		database:          database,
		defaultCollection: defaultCollection,
		kvOptions:         kvOptions,
		logger:            logger.With("component", "router"),
		stores:            make(map[string]*natsclient.KVStore),
	}
}

// Database returns the database name buckets are prefixed with.
func (r *Router) Database() string { return r.database }

// DefaultCollection returns the fallback collection.
func (r *Router) DefaultCollection() string { return r.defaultCollection }

// Open returns the store for collection without falling back.
func (r *Router) Open(ctx context.Context, collection string) (*natsclient.KVStore, error) {
	if collection == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "Open", "collection name is empty")
	}

	r.mu.Lock()
	if kv, ok := r.stores[collection]; ok {
		r.mu.Unlock()
		return kv, nil
	}
	r.mu.Unlock()

	name := BucketName(r.database, collection)
	bucket, err := r.provider.OpenBucket(ctx, name)
	if err != nil {
		if errors.KindOf(err) != errors.KindUnknown {
			return nil, errors.Wrap(err, "Router", "Open", "open bucket "+name)
		}
		return nil, errors.Persistence(err, "Router", "Open", "open bucket "+name)
	}
	kv := natsclient.NewKVStore(bucket, r.logger, r.kvOptions...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.stores[collection]; ok {
		return existing, nil
	}
	r.stores[collection] = kv
	return kv, nil
}

// Resolve returns the store for preferred, or for the default collection when
// preferred is empty or cannot be opened. It also returns the collection
// actually used.
func (r *Router) Resolve(ctx context.Context, preferred string) (*natsclient.KVStore, string, error) {
	if preferred != "" && preferred != r.defaultCollection {
		kv, err := r.Open(ctx, preferred)
		if err == nil {
			return kv, preferred, nil
		}
		if ctx.Err() != nil {
			return nil, "", err
		}
		r.logger.Warn("Preferred collection unavailable, using default",
			"collection", preferred, "default", r.defaultCollection, "error", err)
	}

	if r.defaultCollection == "" {
		return nil, "", errors.WrapInvalid(fmt.Errorf("%w: no default collection", errors.ErrMissingConfig),
			"Router", "Resolve", "resolve "+preferred)
	}
	kv, err := r.Open(ctx, r.defaultCollection)
	if err != nil {
		return nil, "", err
	}
	return kv, r.defaultCollection, nil
}

// Forget drops a cached store so the next Open reopens its bucket.
func (r *Router) Forget(collection string) {
	r.mu.Lock()
	delete(r.stores, collection)
	r.mu.Unlock()
}
