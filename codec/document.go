package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// Reserved document keys.
const (
	KeyID        = "_id"
	KeyClass     = "_class"
	KeyVersion   = "_version"
	KeyUpdatedAt = "_updatedAt"
)

// IsReserved reports whether key is a reserved metadata key.
func IsReserved(key string) bool {
	switch key {
	case KeyID, KeyClass, KeyVersion, KeyUpdatedAt:
		return true
	}
	return false
}

// Document is the generic key/value representation of a stored record.
type Document map[string]any

// ID returns the identity stored under _id.
func (d Document) ID() string {
	s, _ := d[KeyID].(string)
	return s
}

// Class returns the type tag stored under _class.
func (d Document) Class() string {
	s, _ := d[KeyClass].(string)
	return s
}

// Version returns the version counter, zero when absent or malformed.
func (d Document) Version() int64 {
	v, err := toInt64(d[KeyVersion])
	if err != nil {
		return 0
	}
	return v
}

// UpdatedAt returns the last-updated timestamp, zero when absent.
func (d Document) UpdatedAt() time.Time {
	s, ok := d[KeyUpdatedAt].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Touch advances the version by one and stamps the update time.
func (d Document) Touch(at time.Time) int64 {
	next := d.Version() + 1
	d[KeyVersion] = next
	d[KeyUpdatedAt] = FormatTime(at)
	return next
}

// Fields returns the document without reserved keys.
func (d Document) Fields() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		if !IsReserved(k) {
			out[k] = v
		}
	}
	return out
}

// Marshal encodes the document as JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal parses a JSON document, keeping integers exact and normalising
// numbers to int64 or float64.
func Unmarshal(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return Document{}, nil
	}
	return Document(Normalize(raw).(map[string]any)), nil
}

// Canonical returns v as it reads back after a store round trip: integers
// become int64, structs and typed maps become generic maps.
func Canonical(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return Normalize(out), nil
}

// Normalize converts json.Number values inside v to int64 when integral and
// float64 otherwise, recursing into maps and slices.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		for k, inner := range t {
			t[k] = Normalize(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = Normalize(inner)
		}
		return t
	default:
		return v
	}
}

// FormatTime renders t the way documents store timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, errMismatch("integer", v)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, errMismatch("integer", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, errMismatch("number", v)
	}
}
