package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360/configstore/codec"
	"github.com/c360/configstore/docstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/metric"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/pkg/stream"
	"github.com/c360/configstore/pkg/worker"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Record is a decoded object with its stored metadata.
type Record[T any] struct {
	Value      *T
	ID         string
	Version    int64
	UpdatedAt  time.Time
	Collection string
}

// Store persists typed objects. Every operation runs on the worker pool and
// returns a future.
type Store struct {
	router  *Router
	pool    *worker.Pool[worker.Task]
	now     func() time.Time
	logger  *slog.Logger
	metrics *metric.Metrics
	flight  singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for update stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records operation counts and durations.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store.
func New(router *Router, pool *worker.Pool[worker.Task], opts ...Option) *Store {
	s := &Store{
		router: router,
		pool:   pool,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "objectstore")
	return s
}

// Router returns the collection router.
func (s *Store) Router() *Router { return s.router }

func objectKey(id string) string {
	return docstore.ObjectPrefix + id
}

func validateID(method, id string) error {
	if !idPattern.MatchString(id) {
		return errors.WrapInvalid(fmt.Errorf("%w: object id %q", errors.ErrInvalidData, id),
			"objectstore", method, "validate id")
	}
	return nil
}

func run[R any](ctx context.Context, s *Store, op string, fn func(ctx context.Context) (R, bool, error)) *stream.Future[R] {
	return worker.Go(ctx, s.pool, func(ctx context.Context) (R, bool, error) {
		start := time.Now()
		v, ok, err := fn(ctx)
		s.metrics.RecordOperation(op, err, time.Since(start))
		if err != nil {
			s.metrics.RecordError("objectstore", errors.KindOf(err).String())
		}
		return v, ok, err
	})
}

// SetObject replaces the stored record for obj and returns the new version.
// Concurrent writers race and the last write wins; the version still
// increases by one per write.
func SetObject[T any](ctx context.Context, s *Store, schema *codec.Schema[T], obj *T) *stream.Future[int64] {
	return run(ctx, s, "set_object", func(ctx context.Context) (int64, bool, error) {
		v, err := setObject(ctx, s, schema, schema.Name(), obj)
		return v, err == nil, err
	})
}

func setObject[T any](ctx context.Context, s *Store, schema *codec.Schema[T], id string, obj *T) (int64, error) {
	if err := validateID("SetObject", id); err != nil {
		return 0, err
	}
	kv, collection, err := s.router.Resolve(ctx, schema.Collection())
	if err != nil {
		return 0, err
	}

	var version int64
	_, err = kv.UpdateWithRetry(ctx, objectKey(id), func(cur []byte) ([]byte, error) {
		version = 1
		if len(cur) > 0 {
			if prev, perr := codec.Unmarshal(cur); perr == nil {
				version = prev.Version() + 1
			}
		}
		doc, err := schema.Encode(obj, id, version, s.now())
		if err != nil {
			return nil, err
		}
		return marshal(doc, "SetObject")
	})
	if err != nil {
		return 0, classifyWrite(err, "SetObject", id, collection)
	}
	s.logger.Debug("Object saved", "id", id, "collection", collection, "version", version)
	return version, nil
}

// SetObjectIfVersion writes obj only if the stored version equals expected
// (zero meaning the record must not exist yet). A lost race fails with a
// version-conflict error.
func SetObjectIfVersion[T any](ctx context.Context, s *Store, schema *codec.Schema[T], obj *T, expected int64) *stream.Future[int64] {
	return run(ctx, s, "set_object_if_version", func(ctx context.Context) (int64, bool, error) {
		id := schema.Name()
		if err := validateID("SetObjectIfVersion", id); err != nil {
			return 0, false, err
		}
		kv, collection, err := s.router.Resolve(ctx, schema.Collection())
		if err != nil {
			return 0, false, err
		}

		var current int64
		var revision uint64
		entry, err := kv.Get(ctx, objectKey(id))
		switch {
		case err == nil:
			prev, perr := codec.Unmarshal(entry.Value)
			if perr != nil {
				return 0, false, errors.Decode(perr, "objectstore", "SetObjectIfVersion", "parse stored "+id)
			}
			current, revision = prev.Version(), entry.Revision
		case natsclient.IsKVNotFoundError(err):
		default:
			return 0, false, errors.Persistence(err, "objectstore", "SetObjectIfVersion", "load "+id)
		}

		if current != expected {
			return 0, false, errors.VersionConflict(
				fmt.Errorf("stored version %d, expected %d", current, expected),
				"objectstore", "SetObjectIfVersion", "write "+id)
		}

		doc, err := schema.Encode(obj, id, expected+1, s.now())
		if err != nil {
			return 0, false, err
		}
		data, err := marshal(doc, "SetObjectIfVersion")
		if err != nil {
			return 0, false, err
		}

		if revision == 0 {
			_, err = kv.Create(ctx, objectKey(id), data)
		} else {
			_, err = kv.Update(ctx, objectKey(id), data, revision)
		}
		if natsclient.IsKVConflictError(err) {
			return 0, false, errors.VersionConflict(err, "objectstore", "SetObjectIfVersion", "write "+id)
		}
		if err != nil {
			return 0, false, classifyWrite(err, "SetObjectIfVersion", id, collection)
		}
		return expected + 1, true, nil
	})
}

// GetObject loads the record named by schema. The result is absent when no
// record exists.
func GetObject[T any](ctx context.Context, s *Store, schema *codec.Schema[T]) *stream.Future[*T] {
	return GetObjectByID(ctx, s, schema, schema.Name())
}

// GetObjectByID loads the record with id.
func GetObjectByID[T any](ctx context.Context, s *Store, schema *codec.Schema[T], id string) *stream.Future[*T] {
	return run(ctx, s, "get_object", func(ctx context.Context) (*T, bool, error) {
		rec, ok, err := loadRecord(ctx, s, schema, id)
		if err != nil || !ok {
			return nil, false, err
		}
		return rec.Value, true, nil
	})
}

// GetRecord loads the record with id together with its version, for use with
// SetObjectIfVersion.
func GetRecord[T any](ctx context.Context, s *Store, schema *codec.Schema[T], id string) *stream.Future[*Record[T]] {
	return run(ctx, s, "get_record", func(ctx context.Context) (*Record[T], bool, error) {
		return loadRecord(ctx, s, schema, id)
	})
}

func loadRecord[T any](ctx context.Context, s *Store, schema *codec.Schema[T], id string) (*Record[T], bool, error) {
	if err := validateID("GetObject", id); err != nil {
		return nil, false, err
	}
	kv, collection, err := s.router.Resolve(ctx, schema.Collection())
	if err != nil {
		return nil, false, err
	}
	doc, ok, err := loadDocument(ctx, kv, id)
	if err != nil || !ok {
		return nil, false, err
	}
	obj, err := schema.Decode(doc)
	if err != nil {
		return nil, false, err
	}
	return &Record[T]{
		Value:      obj,
		ID:         id,
		Version:    doc.Version(),
		UpdatedAt:  doc.UpdatedAt(),
		Collection: collection,
	}, true, nil
}

func loadDocument(ctx context.Context, kv *natsclient.KVStore, id string) (codec.Document, bool, error) {
	entry, ok, err := stream.First(kv.GetPublisher(objectKey(id))).Join(ctx)
	if err != nil {
		return nil, false, errors.Persistence(err, "objectstore", "load", "load "+id)
	}
	if !ok {
		return nil, false, nil
	}
	doc, err := codec.Unmarshal(entry.Value)
	if err != nil {
		return nil, false, errors.Decode(err, "objectstore", "load", "parse "+id)
	}
	return doc, true, nil
}

// GetOrGenerate loads the record named by schema, or persists and returns the
// object produced by generate when none exists. Concurrent callers in this
// process share one load and one generation. The shared work is detached from
// any single caller's context, so a caller that gives up does not fail the
// others; each caller still returns as soon as its own context is done. When
// another process creates the record first, its stored value is returned
// instead, so the result always matches what GetObject loads afterwards.
func GetOrGenerate[T any](ctx context.Context, s *Store, schema *codec.Schema[T], generate func() (*T, error)) *stream.Future[*T] {
	return run(ctx, s, "get_or_generate", func(ctx context.Context) (*T, bool, error) {
		id := schema.Name()
		if err := validateID("GetOrGenerate", id); err != nil {
			return nil, false, err
		}
		kv, collection, err := s.router.Resolve(ctx, schema.Collection())
		if err != nil {
			return nil, false, err
		}

		// KV operations carry their own timeout.
		shared := context.WithoutCancel(ctx)
		ch := s.flight.DoChan(collection+"/"+id, func() (any, error) {
			return getOrGenerate(shared, s, kv, schema, id, generate)
		})
		select {
		case <-ctx.Done():
			return nil, false, errors.Wrap(ctx.Err(), "objectstore", "GetOrGenerate", "wait for "+id)
		case res := <-ch:
			if res.Err != nil {
				return nil, false, res.Err
			}
			// Every caller decodes its own instance from the shared document.
			obj, err := schema.Decode(res.Val.(codec.Document))
			if err != nil {
				return nil, false, err
			}
			return obj, true, nil
		}
	})
}

// getOrGenerate returns the stored document for id, creating it from
// generate when absent.
func getOrGenerate[T any](ctx context.Context, s *Store, kv *natsclient.KVStore, schema *codec.Schema[T],
	id string, generate func() (*T, error)) (codec.Document, error) {

	doc, ok, err := loadDocument(ctx, kv, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return doc, nil
	}

	obj, err := generate()
	if err != nil {
		return nil, errors.Wrap(err, "objectstore", "GetOrGenerate", "generate "+id)
	}
	if obj == nil {
		return nil, errors.Codec(errors.ErrUnsupportedValue, "objectstore", "GetOrGenerate", "generator returned nil for "+id)
	}
	gen, err := schema.Encode(obj, id, 1, s.now())
	if err != nil {
		return nil, err
	}
	data, err := marshal(gen, "GetOrGenerate")
	if err != nil {
		return nil, err
	}

	_, err = kv.Create(ctx, objectKey(id), data)
	switch {
	case err == nil:
		s.logger.Info("Generated default object", "id", id, "type", schema.TypeName())
		// Return what a later load yields, not the generator's instance.
		return codec.Unmarshal(data)
	case natsclient.IsKVConflictError(err):
		s.logger.Debug("Object created concurrently, loading winner", "id", id)
		doc, ok, lerr := loadDocument(ctx, kv, id)
		if lerr != nil {
			return nil, lerr
		}
		if !ok {
			return nil, errors.Persistence(errors.ErrKeyNotFound, "objectstore", "GetOrGenerate", "reload "+id)
		}
		return doc, nil
	default:
		return nil, errors.Persistence(err, "objectstore", "GetOrGenerate", "create "+id)
	}
}

// GetField reads one field of a record, validated against schema. The result
// is absent when the record or the field does not exist.
func GetField[T any](ctx context.Context, s *Store, schema *codec.Schema[T], id, key string) *stream.Future[any] {
	return run(ctx, s, "get_field", func(ctx context.Context) (any, bool, error) {
		if err := validateID("GetField", id); err != nil {
			return nil, false, err
		}
		kv, _, err := s.router.Resolve(ctx, schema.Collection())
		if err != nil {
			return nil, false, err
		}
		doc, ok, err := loadDocument(ctx, kv, id)
		if err != nil || !ok {
			return nil, false, err
		}
		raw, ok := doc[key]
		if !ok || raw == nil {
			return nil, false, nil
		}
		v, err := schema.EncodeValue(key, raw)
		if err != nil {
			return nil, false, errors.Decode(err, "objectstore", "GetField", fmt.Sprintf("decode %s.%s", id, key))
		}
		return v, true, nil
	})
}

// SetField writes one field of an existing record, leaving other fields
// untouched, and advances its version and update time in the same write.
func SetField[T any](ctx context.Context, s *Store, schema *codec.Schema[T], id, key string, value any) *stream.Future[int64] {
	return run(ctx, s, "set_field", func(ctx context.Context) (int64, bool, error) {
		if err := validateID("SetField", id); err != nil {
			return 0, false, err
		}
		if codec.IsReserved(key) {
			return 0, false, errors.WrapInvalid(fmt.Errorf("%w: %q is reserved", errors.ErrInvalidData, key),
				"objectstore", "SetField", "validate key")
		}
		encoded, err := schema.EncodeValue(key, value)
		if err != nil {
			return 0, false, err
		}
		kv, collection, err := s.router.Resolve(ctx, schema.Collection())
		if err != nil {
			return 0, false, err
		}

		var version int64
		_, err = kv.UpdateWithRetry(ctx, objectKey(id), func(cur []byte) ([]byte, error) {
			if len(cur) == 0 {
				return nil, errors.WrapInvalid(fmt.Errorf("%w: object %q", errors.ErrKeyNotFound, id),
					"objectstore", "SetField", "locate record")
			}
			doc, err := codec.Unmarshal(cur)
			if err != nil {
				return nil, errors.Decode(err, "objectstore", "SetField", "parse stored "+id)
			}
			doc[key] = encoded
			version = doc.Touch(s.now())
			return marshal(doc, "SetField")
		})
		if err != nil {
			return 0, false, classifyWrite(err, "SetField", id, collection)
		}
		return version, true, nil
	})
}

func marshal(doc codec.Document, method string) ([]byte, error) {
	data, err := doc.Marshal()
	if err != nil {
		return nil, errors.Codec(err, "objectstore", method, "marshal "+doc.ID())
	}
	return data, nil
}

func classifyWrite(err error, method, id, collection string) error {
	if errors.KindOf(err) != errors.KindUnknown || errors.IsInvalid(err) {
		return err
	}
	return errors.Persistence(err, "objectstore", method, fmt.Sprintf("write %s to %s", id, collection))
}
