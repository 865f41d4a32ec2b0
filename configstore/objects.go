package configstore

import (
	"context"

	"github.com/c360/configstore/codec"
	"github.com/c360/configstore/objectstore"
	"github.com/c360/configstore/pkg/stream"
)

// Typed objects are stored through the manager's object store. Go methods
// cannot carry type parameters, so these are package functions.

// Save replaces the stored record of obj and returns its new version.
func Save[T any](ctx context.Context, m *Manager, schema *codec.Schema[T], obj *T) *stream.Future[int64] {
	_, objects, err := m.running()
	if err != nil {
		return stream.Reject[int64](err)
	}
	return objectstore.SetObject(ctx, objects, schema, obj)
}

// SaveIfVersion replaces the stored record only when its version is still
// expected. A lost race fails with a version conflict.
func SaveIfVersion[T any](ctx context.Context, m *Manager, schema *codec.Schema[T], obj *T, expected int64) *stream.Future[int64] {
	_, objects, err := m.running()
	if err != nil {
		return stream.Reject[int64](err)
	}
	return objectstore.SetObjectIfVersion(ctx, objects, schema, obj, expected)
}

// Load returns the stored object named by schema, absent when none exists.
func Load[T any](ctx context.Context, m *Manager, schema *codec.Schema[T]) *stream.Future[*T] {
	_, objects, err := m.running()
	if err != nil {
		return stream.Reject[*T](err)
	}
	return objectstore.GetObject(ctx, objects, schema)
}

// LoadRecord returns the stored object with its version and update time.
func LoadRecord[T any](ctx context.Context, m *Manager, schema *codec.Schema[T], id string) *stream.Future[*objectstore.Record[T]] {
	_, objects, err := m.running()
	if err != nil {
		return stream.Reject[*objectstore.Record[T]](err)
	}
	return objectstore.GetRecord(ctx, objects, schema, id)
}

// GetOrGenerate returns the stored object named by schema, persisting the
// result of generate first when none exists.
func GetOrGenerate[T any](ctx context.Context, m *Manager, schema *codec.Schema[T], generate func() (*T, error)) *stream.Future[*T] {
	_, objects, err := m.running()
	if err != nil {
		return stream.Reject[*T](err)
	}
	return objectstore.GetOrGenerate(ctx, objects, schema, generate)
}

// GetField reads a single field of a stored object.
func GetField[T any](ctx context.Context, m *Manager, schema *codec.Schema[T], id, key string) *stream.Future[any] {
	_, objects, err := m.running()
	if err != nil {
		return stream.Reject[any](err)
	}
	return objectstore.GetField(ctx, objects, schema, id, key)
}

// SetField writes a single field of a stored object and returns its new
// version.
func SetField[T any](ctx context.Context, m *Manager, schema *codec.Schema[T], id, key string, value any) *stream.Future[int64] {
	_, objects, err := m.running()
	if err != nil {
		return stream.Reject[int64](err)
	}
	return objectstore.SetField(ctx, objects, schema, id, key, value)
}
