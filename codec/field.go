package codec

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/c360/configstore/errors"
)

// Field maps one attribute of T to a document key.
type Field[T any] struct {
	name     string
	required bool
	encode   func(obj *T) (value any, present bool, err error)
	decode   func(obj *T, value any) error
}

// Name returns the document key.
func (f Field[T]) Name() string {
	return f.name
}

// IsRequired reports whether decoding fails when the key is missing.
func (f Field[T]) IsRequired() bool {
	return f.required
}

// Required returns a copy of f that must be present when decoding.
func (f Field[T]) Required() Field[T] {
	f.required = true
	return f
}

func errMismatch(want string, got any) error {
	return fmt.Errorf("%w: want %s, got %T", errors.ErrTypeMismatch, want, got)
}

func errUnsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrUnsupportedValue, fmt.Sprintf(format, args...))
}

func scalar[T, V any](name string, get func(*T) V, set func(*T, V),
	enc func(V) (any, bool, error), dec func(any) (V, error)) Field[T] {
	return Field[T]{
		name: name,
		encode: func(obj *T) (any, bool, error) {
			return enc(get(obj))
		},
		decode: func(obj *T, raw any) error {
			v, err := dec(raw)
			if err != nil {
				return err
			}
			set(obj, v)
			return nil
		},
	}
}

func checkString(s string) error {
	if !utf8.ValidString(s) {
		return errUnsupported("invalid UTF-8 string")
	}
	return nil
}

// String maps a string attribute.
func String[T any](name string, get func(*T) string, set func(*T, string)) Field[T] {
	return scalar(name, get, set,
		func(v string) (any, bool, error) {
			if err := checkString(v); err != nil {
				return nil, false, err
			}
			return v, true, nil
		},
		func(raw any) (string, error) {
			s, ok := raw.(string)
			if !ok {
				return "", errMismatch("string", raw)
			}
			return s, nil
		})
}

// Int maps an int attribute.
func Int[T any](name string, get func(*T) int, set func(*T, int)) Field[T] {
	return scalar(name, get, set,
		func(v int) (any, bool, error) { return int64(v), true, nil },
		func(raw any) (int, error) {
			n, err := toInt64(raw)
			if err != nil {
				return 0, err
			}
			if n > math.MaxInt || n < math.MinInt {
				return 0, errMismatch("int", raw)
			}
			return int(n), nil
		})
}

// Int64 maps an int64 attribute.
func Int64[T any](name string, get func(*T) int64, set func(*T, int64)) Field[T] {
	return scalar(name, get, set,
		func(v int64) (any, bool, error) { return v, true, nil },
		toInt64)
}

// Float maps a float64 attribute. NaN and infinities are rejected.
func Float[T any](name string, get func(*T) float64, set func(*T, float64)) Field[T] {
	return scalar(name, get, set,
		func(v float64) (any, bool, error) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, false, errUnsupported("non-finite float %v", v)
			}
			return v, true, nil
		},
		toFloat64)
}

// Bool maps a bool attribute.
func Bool[T any](name string, get func(*T) bool, set func(*T, bool)) Field[T] {
	return scalar(name, get, set,
		func(v bool) (any, bool, error) { return v, true, nil },
		func(raw any) (bool, error) {
			b, ok := raw.(bool)
			if !ok {
				return false, errMismatch("bool", raw)
			}
			return b, nil
		})
}

// Time maps a time.Time attribute stored as an RFC 3339 string in UTC.
func Time[T any](name string, get func(*T) time.Time, set func(*T, time.Time)) Field[T] {
	return scalar(name, get, set,
		func(v time.Time) (any, bool, error) {
			if v.Year() < 0 || v.Year() > 9999 {
				return nil, false, errUnsupported("time out of range %v", v)
			}
			return FormatTime(v), true, nil
		},
		func(raw any) (time.Time, error) {
			s, ok := raw.(string)
			if !ok {
				return time.Time{}, errMismatch("timestamp", raw)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: %v", errors.ErrTypeMismatch, err)
			}
			if t.IsZero() {
				return time.Time{}, nil
			}
			return t, nil
		})
}

// Strings maps a []string attribute. A nil slice is omitted.
func Strings[T any](name string, get func(*T) []string, set func(*T, []string)) Field[T] {
	return scalar(name, get, set,
		func(v []string) (any, bool, error) {
			if v == nil {
				return nil, false, nil
			}
			out := make([]any, len(v))
			for i, s := range v {
				if err := checkString(s); err != nil {
					return nil, false, err
				}
				out[i] = s
			}
			return out, true, nil
		},
		func(raw any) ([]string, error) {
			switch list := raw.(type) {
			case []string:
				return append([]string{}, list...), nil
			case []any:
				out := make([]string, len(list))
				for i, item := range list {
					s, ok := item.(string)
					if !ok {
						return nil, errMismatch("string list element", item)
					}
					out[i] = s
				}
				return out, nil
			default:
				return nil, errMismatch("string list", raw)
			}
		})
}

// StringMap maps a map[string]string attribute. A nil map is omitted.
func StringMap[T any](name string, get func(*T) map[string]string, set func(*T, map[string]string)) Field[T] {
	return scalar(name, get, set,
		func(v map[string]string) (any, bool, error) {
			if v == nil {
				return nil, false, nil
			}
			out := make(map[string]any, len(v))
			for k, s := range v {
				if err := checkString(k); err != nil {
					return nil, false, err
				}
				if err := checkString(s); err != nil {
					return nil, false, err
				}
				out[k] = s
			}
			return out, true, nil
		},
		func(raw any) (map[string]string, error) {
			switch m := raw.(type) {
			case map[string]string:
				out := make(map[string]string, len(m))
				for k, v := range m {
					out[k] = v
				}
				return out, nil
			case map[string]any:
				out := make(map[string]string, len(m))
				for k, item := range m {
					s, ok := item.(string)
					if !ok {
						return nil, errMismatch("string map value", item)
					}
					out[k] = s
				}
				return out, nil
			default:
				return nil, errMismatch("string map", raw)
			}
		})
}

// Nested maps a pointer to a sub-object described by its own schema. A nil
// pointer is omitted.
func Nested[T, U any](name string, sub *Schema[U], get func(*T) *U, set func(*T, *U)) Field[T] {
	return scalar(name, get, set,
		func(v *U) (any, bool, error) {
			if v == nil {
				return nil, false, nil
			}
			fields, err := sub.encodeFields(v)
			if err != nil {
				return nil, false, err
			}
			return fields, true, nil
		},
		func(raw any) (*U, error) {
			var m map[string]any
			switch t := raw.(type) {
			case map[string]any:
				m = t
			case Document:
				m = t
			default:
				return nil, errMismatch("object", raw)
			}
			out := new(U)
			if err := sub.decodeFields(out, m); err != nil {
				return nil, err
			}
			return out, nil
		})
}
