package configstore

import (
	"context"

	"github.com/c360/configstore/codec"
	"github.com/c360/configstore/docstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/pkg/cache"
	"github.com/c360/configstore/pkg/stream"
)

// GetConfigAsync returns the config value of key in collection, or def when
// the key is not set. A cached collection resolves without a round trip.
func (m *Manager) GetConfigAsync(ctx context.Context, collection, key string, def any) *stream.Future[any] {
	switch v, res := m.cache.GetConfig(collection, key); res {
	case cache.Found:
		return stream.Resolve(v)
	case cache.KeyMissing:
		return stream.Resolve(def)
	}

	return submit(ctx, m, "get_config", func(ctx context.Context) (any, bool, error) {
		a, err := m.collectionFor(ctx, collection)
		if err != nil {
			return nil, false, err
		}
		data, err := m.loadConfigScope(ctx, a)
		if err != nil {
			return nil, false, err
		}
		if v, ok := data[key]; ok {
			return v, true, nil
		}
		return def, true, nil
	})
}

// GetMessageAsync returns the message of key for lang. A missing message
// falls back to the collection's default language and then to the key
// itself, so the result is always displayable. Each call counts as one cache
// request: a hit when the message was served from a cached snapshot, a miss
// otherwise.
func (m *Manager) GetMessageAsync(ctx context.Context, collection, lang, key string) *stream.Future[string] {
	if err := docstore.ValidateLang(lang); err != nil {
		return stream.Reject[string](err)
	}

	langs := m.fallbackChain(collection, lang)
	if v, hit, done := m.cachedMessage(collection, langs, key); done {
		m.cache.RecordLookup(hit)
		return stream.Resolve(v)
	}

	return submit(ctx, m, "get_message", func(ctx context.Context) (string, bool, error) {
		v, hit, err := m.resolveMessage(ctx, collection, langs, key)
		if err != nil {
			return "", false, err
		}
		m.cache.RecordLookup(hit)
		return v, true, nil
	})
}

// resolveMessage walks the fallback chain, loading every scope that is not
// cached. hit reports whether the message came from a snapshot that was
// already cached.
func (m *Manager) resolveMessage(ctx context.Context, collection string, langs []string, key string) (string, bool, error) {
	a, err := m.collectionFor(ctx, collection)
	if err != nil {
		return "", false, err
	}
	for _, l := range langs {
		v, res := m.cache.PeekMessage(collection, l, key)
		if res == cache.Found {
			return v, true, nil
		}
		if res == cache.KeyMissing {
			continue
		}
		data, err := m.loadMessageScope(ctx, a, l)
		if err != nil {
			return "", false, err
		}
		if v, ok := data[key]; ok {
			return v, false, nil
		}
	}
	return key, false, nil
}

// fallbackChain is lang followed by the collection default when different.
func (m *Manager) fallbackChain(collection, lang string) []string {
	def, ok := m.languages.Default(collection)
	if !ok || def == "" {
		def = m.cfg.DefaultLanguage
	}
	if def == "" || def == lang {
		return []string{lang}
	}
	return []string{lang, def}
}

// cachedMessage walks the fallback chain through the cache only. done is
// false as soon as a scope on the chain has to be loaded; hit is false when
// the key itself is returned.
func (m *Manager) cachedMessage(collection string, langs []string, key string) (v string, hit, done bool) {
	for _, l := range langs {
		msg, res := m.cache.PeekMessage(collection, l, key)
		switch res {
		case cache.Found:
			return msg, true, true
		case cache.ScopeMissing:
			return "", false, false
		}
	}
	return key, false, true
}

// SetConfig persists one config value and updates the local snapshot. The
// change feed carries the write to other processes.
func (m *Manager) SetConfig(ctx context.Context, collection, key string, value any) *stream.Future[struct{}] {
	return submit(ctx, m, "set_config", func(ctx context.Context) (struct{}, bool, error) {
		a, err := m.collectionFor(ctx, collection)
		if err != nil {
			return struct{}{}, false, err
		}
		if _, err := a.docs.SetConfigValue(ctx, key, value); err != nil {
			return struct{}{}, false, err
		}
		m.cacheConfigValue(collection, key, value)
		return struct{}{}, true, nil
	})
}

// cacheConfigValue stores value the way a reload would decode it, so a
// cached int reads back as the int64 a cold read returns.
func (m *Manager) cacheConfigValue(collection, key string, value any) {
	canonical, err := codec.Canonical(value)
	if err != nil {
		m.cache.InvalidateScope(cache.ConfigScope(collection))
		return
	}
	m.cache.SetConfigValue(collection, key, canonical)
}

// DeleteConfig removes one config key.
func (m *Manager) DeleteConfig(ctx context.Context, collection, key string) *stream.Future[struct{}] {
	return submit(ctx, m, "delete_config", func(ctx context.Context) (struct{}, bool, error) {
		a, err := m.collectionFor(ctx, collection)
		if err != nil {
			return struct{}{}, false, err
		}
		if _, err := a.docs.DeleteConfigKey(ctx, key); err != nil {
			return struct{}{}, false, err
		}
		m.cache.InvalidateScope(cache.ConfigScope(collection))
		return struct{}{}, true, nil
	})
}

// SetMessage persists one message for lang and updates the local snapshot.
func (m *Manager) SetMessage(ctx context.Context, collection, lang, key, value string) *stream.Future[struct{}] {
	if err := docstore.ValidateLang(lang); err != nil {
		return stream.Reject[struct{}](err)
	}
	return submit(ctx, m, "set_message", func(ctx context.Context) (struct{}, bool, error) {
		a, err := m.collectionFor(ctx, collection)
		if err != nil {
			return struct{}{}, false, err
		}
		if _, err := a.docs.SetMessage(ctx, lang, key, value); err != nil {
			return struct{}{}, false, err
		}
		m.languages.Add(collection, lang)
		m.cache.SetMessageValue(collection, lang, key, value)
		return struct{}{}, true, nil
	})
}

// LanguagesOf returns the languages known for collection, including those
// that only exist in the database.
func (m *Manager) LanguagesOf(ctx context.Context, collection string) *stream.Future[[]string] {
	return submit(ctx, m, "languages", func(ctx context.Context) ([]string, bool, error) {
		a, err := m.collectionFor(ctx, collection)
		if err != nil {
			return nil, false, err
		}
		stored, err := a.docs.Languages(ctx)
		if err != nil {
			return nil, false, err
		}
		m.languages.Add(collection, stored...)
		return m.languages.Languages(collection), true, nil
	})
}

// ConfigSnapshot returns the whole config of collection as persisted.
func (m *Manager) ConfigSnapshot(ctx context.Context, collection string) *stream.Future[map[string]any] {
	return submit(ctx, m, "config_snapshot", func(ctx context.Context) (map[string]any, bool, error) {
		a, err := m.collectionFor(ctx, collection)
		if err != nil {
			return nil, false, err
		}
		data, err := m.loadConfigScope(ctx, a)
		if err != nil {
			return nil, false, errors.Wrap(err, "configstore", "ConfigSnapshot", "load config of "+collection)
		}
		out := make(map[string]any, len(data))
		for k, v := range data {
			out[k] = v
		}
		return out, true, nil
	})
}
