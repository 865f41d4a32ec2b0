package codec

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/c360/configstore/errors"
)

// Schema describes how a type is stored: the record id derived from the
// type's declared name, a diagnostic type tag, an optional preferred
// collection, and the ordered field mapping.
type Schema[T any] struct {
	name       string
	typeName   string
	collection string
	fields     []Field[T]
	index      map[string]int
}

// NewSchema validates and builds a schema. name is the record id every
// instance of T is stored under.
func NewSchema[T any](name, typeName string, fields ...Field[T]) (*Schema[T], error) {
	if name == "" {
		return nil, errors.WrapInvalid(stderrors.New("schema name is empty"), "Codec", "NewSchema", "validate")
	}
	s := &Schema[T]{
		name:     name,
		typeName: typeName,
		fields:   fields,
		index:    make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		switch {
		case f.name == "":
			return nil, errors.WrapInvalid(fmt.Errorf("field %d has no name", i), "Codec", "NewSchema", "validate "+name)
		case IsReserved(f.name):
			return nil, errors.WrapInvalid(fmt.Errorf("field %q uses a reserved key", f.name), "Codec", "NewSchema", "validate "+name)
		}
		if _, dup := s.index[f.name]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate field %q", f.name), "Codec", "NewSchema", "validate "+name)
		}
		s.index[f.name] = i
	}
	return s, nil
}

// MustSchema is NewSchema that panics on an invalid definition. Schemas are
// declared at startup, where a bad definition is a programming error.
func MustSchema[T any](name, typeName string, fields ...Field[T]) *Schema[T] {
	s, err := NewSchema(name, typeName, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// InCollection returns a copy of the schema that prefers the given collection.
func (s *Schema[T]) InCollection(collection string) *Schema[T] {
	c := *s
	c.collection = collection
	return &c
}

// Name returns the record id.
func (s *Schema[T]) Name() string { return s.name }

// TypeName returns the diagnostic type tag.
func (s *Schema[T]) TypeName() string { return s.typeName }

// Collection returns the preferred collection, empty for the default.
func (s *Schema[T]) Collection() string { return s.collection }

// Field returns the mapping for key.
func (s *Schema[T]) Field(key string) (Field[T], bool) {
	i, ok := s.index[key]
	if !ok {
		return Field[T]{}, false
	}
	return s.fields[i], true
}

// Encode flattens obj into a document carrying id, the type tag, version and
// the update time.
func (s *Schema[T]) Encode(obj *T, id string, version int64, at time.Time) (Document, error) {
	if obj == nil {
		return nil, errors.Codec(errUnsupported("nil object"), "Codec", "Encode", "encode "+s.typeName)
	}
	fields, err := s.encodeFields(obj)
	if err != nil {
		return nil, errors.Codec(err, "Codec", "Encode", "encode "+s.typeName)
	}
	doc := Document(fields)
	doc[KeyID] = id
	doc[KeyClass] = s.typeName
	doc[KeyVersion] = version
	doc[KeyUpdatedAt] = FormatTime(at)
	return doc, nil
}

// EncodeValue encodes a single field value as it would appear in a document.
func (s *Schema[T]) EncodeValue(key string, value any) (any, error) {
	f, ok := s.Field(key)
	if !ok {
		return nil, errors.Codec(fmt.Errorf("%w: unknown field %q", errors.ErrUnsupportedValue, key), "Codec", "EncodeValue", "encode "+s.typeName)
	}
	var probe T
	if err := f.decode(&probe, value); err != nil {
		return nil, errors.Codec(fmt.Errorf("field %q: %w", key, err), "Codec", "EncodeValue", "encode "+s.typeName)
	}
	encoded, _, err := f.encode(&probe)
	if err != nil {
		return nil, errors.Codec(fmt.Errorf("field %q: %w", key, err), "Codec", "EncodeValue", "encode "+s.typeName)
	}
	return encoded, nil
}

func (s *Schema[T]) encodeFields(obj *T) (map[string]any, error) {
	out := make(map[string]any, len(s.fields)+4)
	for _, f := range s.fields {
		v, present, err := f.encode(obj)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.name, err)
		}
		if present {
			out[f.name] = v
		}
	}
	return out, nil
}

// Decode rebuilds a T from doc, ignoring reserved keys.
func (s *Schema[T]) Decode(doc Document) (*T, error) {
	obj := new(T)
	if err := s.decodeFields(obj, doc); err != nil {
		return nil, errors.Decode(err, "Codec", "Decode", "decode "+s.typeName)
	}
	return obj, nil
}

func (s *Schema[T]) decodeFields(obj *T, m map[string]any) error {
	for _, f := range s.fields {
		raw, ok := m[f.name]
		if !ok || raw == nil {
			if f.required {
				return fmt.Errorf("field %q: %w", f.name, errors.ErrMissingField)
			}
			continue
		}
		if err := f.decode(obj, raw); err != nil {
			return fmt.Errorf("field %q: %w", f.name, err)
		}
	}
	return nil
}
