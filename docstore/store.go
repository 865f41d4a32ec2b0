package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/configstore/codec"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/pkg/stream"
)

// ConfigDocument is the persisted config of a collection.
type ConfigDocument struct {
	Data      map[string]any
	Version   int64
	UpdatedAt time.Time
	Origin    string
	Revision  uint64
}

// MessageDocument is the persisted messages of a collection for one language.
type MessageDocument struct {
	Lang      string
	Messages  map[string]string
	Version   int64
	UpdatedAt time.Time
	Origin    string
	Revision  uint64
}

// Store reads and writes the config and message documents of one collection.
// Every write is a compare-and-swap that advances the version, refreshes the
// update time and stamps the writer's origin.
type Store struct {
	kv         *natsclient.KVStore
	collection string
	origin     string
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithOrigin sets the identity stamped on every write.
func WithOrigin(origin string) Option {
	return func(s *Store) {
		if origin != "" {
			s.origin = origin
		}
	}
}

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

// New creates a Store for collection over kv.
func New(kv *natsclient.KVStore, collection string, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		collection: collection,
		origin:     uuid.NewString(),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "docstore", "collection", collection)
	return s
}

// Collection returns the collection name.
func (s *Store) Collection() string { return s.collection }

// Origin returns the identity stamped on writes from this store.
func (s *Store) Origin() string { return s.origin }

// LoadConfig loads the config document. The boolean is false when none exists.
func (s *Store) LoadConfig(ctx context.Context) (*ConfigDocument, bool, error) {
	doc, rev, ok, err := s.load(ctx, "LoadConfig", ConfigKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := dataOf(doc)
	if err != nil {
		return nil, false, errors.Decode(err, "docstore", "LoadConfig", "decode config of "+s.collection)
	}
	return &ConfigDocument{
		Data:      data,
		Version:   doc.Version(),
		UpdatedAt: doc.UpdatedAt(),
		Origin:    originOf(doc),
		Revision:  rev,
	}, true, nil
}

// LoadMessages loads the messages for lang. Nested message groups are
// flattened into dotted keys.
func (s *Store) LoadMessages(ctx context.Context, lang string) (*MessageDocument, bool, error) {
	if err := ValidateLang(lang); err != nil {
		return nil, false, err
	}
	doc, rev, ok, err := s.load(ctx, "LoadMessages", MessageKey(lang))
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := dataOf(doc)
	if err != nil {
		return nil, false, errors.Decode(err, "docstore", "LoadMessages",
			fmt.Sprintf("decode %s messages of %s", lang, s.collection))
	}
	messages := make(map[string]string, len(data))
	flatten("", data, messages)
	return &MessageDocument{
		Lang:      lang,
		Messages:  messages,
		Version:   doc.Version(),
		UpdatedAt: doc.UpdatedAt(),
		Origin:    originOf(doc),
		Revision:  rev,
	}, true, nil
}

// Languages lists the languages that have a message document.
func (s *Store) Languages(ctx context.Context) ([]string, error) {
	keys, _, err := stream.Collect(s.kv.KeysPublisher(MessagePrefix + "*")).Join(ctx)
	if err != nil {
		return nil, errors.Persistence(err, "docstore", "Languages", "list languages of "+s.collection)
	}
	langs := make([]string, 0, len(keys))
	for _, k := range keys {
		if kind, lang := ParseKey(k); kind == KeyMessages {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	return langs, nil
}

// SetConfigValue sets one config key and returns the new version.
func (s *Store) SetConfigValue(ctx context.Context, key string, value any) (int64, error) {
	if key == "" {
		return 0, errors.WrapInvalid(errors.ErrMissingField, "docstore", "SetConfigValue", "config key is empty")
	}
	return s.mutate(ctx, "SetConfigValue", ConfigKey, func(data map[string]any) error {
		data[key] = value
		return nil
	})
}

// DeleteConfigKey removes one config key and returns the new version.
func (s *Store) DeleteConfigKey(ctx context.Context, key string) (int64, error) {
	return s.mutate(ctx, "DeleteConfigKey", ConfigKey, func(data map[string]any) error {
		delete(data, key)
		return nil
	})
}

// ReplaceConfig replaces the whole config data and returns the new version.
func (s *Store) ReplaceConfig(ctx context.Context, data map[string]any) (int64, error) {
	return s.mutate(ctx, "ReplaceConfig", ConfigKey, func(cur map[string]any) error {
		clear(cur)
		for k, v := range data {
			cur[k] = v
		}
		return nil
	})
}

// SetMessage sets one message for lang and returns the new version. A dotted
// key replaces any nested group stored under the same path.
func (s *Store) SetMessage(ctx context.Context, lang, key, value string) (int64, error) {
	if err := ValidateLang(lang); err != nil {
		return 0, err
	}
	if key == "" {
		return 0, errors.WrapInvalid(errors.ErrMissingField, "docstore", "SetMessage", "message key is empty")
	}
	return s.mutate(ctx, "SetMessage", MessageKey(lang), func(data map[string]any) error {
		removePath(data, key)
		data[key] = value
		return nil
	})
}

// ReplaceMessages replaces every message for lang and returns the new version.
func (s *Store) ReplaceMessages(ctx context.Context, lang string, messages map[string]string) (int64, error) {
	if err := ValidateLang(lang); err != nil {
		return 0, err
	}
	return s.mutate(ctx, "ReplaceMessages", MessageKey(lang), func(cur map[string]any) error {
		clear(cur)
		for k, v := range messages {
			cur[k] = v
		}
		return nil
	})
}

func (s *Store) load(ctx context.Context, method, key string) (codec.Document, uint64, bool, error) {
	entry, ok, err := stream.First(s.kv.GetPublisher(key)).Join(ctx)
	if err != nil {
		return nil, 0, false, errors.Persistence(err, "docstore", method, fmt.Sprintf("load %s of %s", key, s.collection))
	}
	if !ok {
		return nil, 0, false, nil
	}
	doc, err := codec.Unmarshal(entry.Value)
	if err != nil {
		return nil, 0, false, errors.Decode(err, "docstore", method, fmt.Sprintf("parse %s of %s", key, s.collection))
	}
	return doc, entry.Revision, true, nil
}

func (s *Store) mutate(ctx context.Context, method, key string, fn func(data map[string]any) error) (int64, error) {
	var version int64
	_, err := s.kv.UpdateWithRetry(ctx, key, func(cur []byte) ([]byte, error) {
		doc := codec.Document{}
		if len(cur) > 0 {
			parsed, err := codec.Unmarshal(cur)
			if err != nil {
				return nil, errors.Decode(err, "docstore", method, "parse stored "+key)
			}
			doc = parsed
		}
		data, err := dataOf(doc)
		if err != nil {
			return nil, errors.Decode(err, "docstore", method, "read stored "+key)
		}
		if err := fn(data); err != nil {
			return nil, err
		}
		doc[KeyData] = data
		doc[codec.KeyID] = key
		doc[KeyOrigin] = s.origin
		version = doc.Touch(s.now())

		out, err := doc.Marshal()
		if err != nil {
			return nil, errors.Codec(err, "docstore", method, "encode "+key)
		}
		return out, nil
	})
	if err != nil {
		if errors.KindOf(err) != errors.KindUnknown {
			return 0, err
		}
		return 0, errors.Persistence(err, "docstore", method, fmt.Sprintf("write %s of %s", key, s.collection))
	}

	s.logger.Debug("Document updated", "key", key, "version", version)
	return version, nil
}

func dataOf(doc codec.Document) (map[string]any, error) {
	raw, ok := doc[KeyData]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", errors.ErrTypeMismatch, KeyData, raw)
	}
	return data, nil
}

func originOf(doc codec.Document) string {
	s, _ := doc[KeyOrigin].(string)
	return s
}

// flatten renders nested message groups as dotted keys. Lists become
// newline-separated lines and other scalars their printed form.
func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case nil:
		case string:
			out[key] = t
		case map[string]any:
			flatten(key, t, out)
		case []any:
			lines := make([]string, 0, len(t))
			for _, line := range t {
				lines = append(lines, fmt.Sprint(line))
			}
			out[key] = strings.Join(lines, "\n")
		default:
			out[key] = fmt.Sprint(t)
		}
	}
}

// removePath drops a nested group addressed by a dotted key so a flat write
// does not leave a shadowed nested value behind.
func removePath(data map[string]any, key string) {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return
	}
	cur := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
