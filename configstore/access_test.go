package configstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/pkg/cache"
)

func TestGetConfigAsync_PrimedThenInvalidateAll(t *testing.T) {
	ctx := context.Background()
	m := startManager(t, natsclient.NewMemoryKV(), nil)
	m.Cache().PutConfigData("collectionA", map[string]any{"key1": "value1"})

	v, err := m.GetConfigAsync(ctx, "collectionA", "key1", "default").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "value1", v)

	_, err = m.InvalidateAllAsync(ctx).Get(ctx)
	require.NoError(t, err)

	v, err = m.GetConfigAsync(ctx, "collectionA", "key1", "default").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "default", v)
}

func TestGetConfigAsync_LoadsOnMissThenHits(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	_, err := remoteDocs(mem, "lobby").SetConfigValue(ctx, "maxPlayers", 16)
	require.NoError(t, err)
	m := startManager(t, mem, nil)

	v, err := m.GetConfigAsync(ctx, "lobby", "maxPlayers", 8).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(16), v)

	before := m.GetCacheStats()
	v, err = m.GetConfigAsync(ctx, "lobby", "maxPlayers", 8).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(16), v)
	after := m.GetCacheStats()
	assert.Equal(t, before.HitCount+1, after.HitCount)

	v, err = m.GetConfigAsync(ctx, "lobby", "missing", 8).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestGetConfigAsync_CorruptDocument(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	b := mem.Bucket("game_lobby")
	_, err := b.Put(ctx, "config", []byte(`{"data": [1, 2]}`))
	require.NoError(t, err)
	m := startManager(t, mem, nil)

	_, err = m.GetConfigAsync(ctx, "lobby", "size", 1).Get(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindDecode))

	// Other collections are unaffected.
	v, err := m.GetConfigAsync(ctx, "ui", "size", 1).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSetConfig_UpdatesLocalSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	m := startManager(t, mem, []Collection{{Name: "ui"}})

	_, err := m.SetConfig(ctx, "ui", "volume", 7).Get(ctx)
	require.NoError(t, err)

	v, res := m.Cache().GetConfig("ui", "volume")
	assert.Equal(t, cache.Found, res)
	assert.Equal(t, int64(7), v)

	persisted, ok, err := remoteDocs(mem, "ui").LoadConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), persisted.Data["volume"])
	assert.Equal(t, "local", persisted.Origin)
}

func TestSetConfig_RejectsUnencodableValue(t *testing.T) {
	ctx := context.Background()
	m := startManager(t, natsclient.NewMemoryKV(), []Collection{{Name: "ui"}})

	_, err := m.SetConfig(ctx, "ui", "callback", func() {}).Get(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindCodec))
}

func TestDeleteConfig(t *testing.T) {
	ctx := context.Background()
	m := startManager(t, natsclient.NewMemoryKV(), []Collection{{Name: "ui"}})

	_, err := m.SetConfig(ctx, "ui", "volume", 7).Get(ctx)
	require.NoError(t, err)
	_, err = m.DeleteConfig(ctx, "ui", "volume").Get(ctx)
	require.NoError(t, err)

	v, err := m.GetConfigAsync(ctx, "ui", "volume", 5).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func seedMessages(t *testing.T, mem *natsclient.MemoryKV) {
	t.Helper()
	ctx := context.Background()
	remote := remoteDocs(mem, "ui")
	for lang, msgs := range map[string]map[string]string{
		"en": {"greet": "Hello", "farewell": "Bye", "msg1": "v1"},
		"pl": {"greet": "Cześć", "msg1": "w1"},
	} {
		_, err := remote.ReplaceMessages(ctx, lang, msgs)
		require.NoError(t, err)
	}
}

func TestGetMessageAsync_Fallback(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	seedMessages(t, mem)
	m := startManager(t, mem, []Collection{{Name: "ui", DefaultLanguage: "en", Languages: []string{"en", "pl"}}})

	cases := []struct {
		lang, key, want string
	}{
		{"pl", "greet", "Cześć"},
		{"pl", "farewell", "Bye"},
		{"en", "greet", "Hello"},
		{"de", "greet", "Hello"},
		{"pl", "missing.key", "missing.key"},
	}
	for _, tc := range cases {
		t.Run(tc.lang+"/"+tc.key, func(t *testing.T) {
			got, err := m.GetMessageAsync(ctx, "ui", tc.lang, tc.key).Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := m.GetMessageAsync(ctx, "ui", "e n", "greet").Get(ctx)
	assert.True(t, cserrors.IsInvalid(err))
}

func TestGetMessageAsync_CountsOneRequestPerCall(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	seedMessages(t, mem)
	m := startManager(t, mem, []Collection{{Name: "ui", DefaultLanguage: "en", Languages: []string{"en", "pl"}}})

	read := func(lang, key string) cache.Stats {
		t.Helper()
		m.Cache().ResetStats()
		_, err := m.GetMessageAsync(ctx, "ui", lang, key).Get(ctx)
		require.NoError(t, err)
		return m.GetCacheStats()
	}

	m.Cache().InvalidateAll()
	s := read("pl", "greet")
	assert.Equal(t, int64(1), s.RequestCount, "cold read")
	assert.Equal(t, int64(1), s.MissCount)

	m.Cache().InvalidateScope(cache.MessageScope("ui", "en"))
	s = read("pl", "farewell")
	assert.Equal(t, int64(1), s.RequestCount, "fallback read that loads the default language")
	assert.Equal(t, int64(1), s.MissCount)

	s = read("pl", "farewell")
	assert.Equal(t, int64(1), s.RequestCount, "cached fallback read")
	assert.Equal(t, int64(1), s.HitCount)

	s = read("pl", "missing.key")
	assert.Equal(t, int64(1), s.RequestCount, "key returned as is")
	assert.Equal(t, int64(1), s.MissCount)
}

func TestGetMessageAsync_StoreDefaultLanguage(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	seedMessages(t, mem)
	m := startManager(t, mem, nil, func(c *Config, _ *Dependencies) {
		c.DefaultLanguage = "pl"
	})

	got, err := m.GetMessageAsync(ctx, "ui", "fr", "greet").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Cześć", got)
}

func TestChangeFeed_MessageChangeInvalidatesOneLanguage(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	seedMessages(t, mem)
	m := startManager(t, mem, []Collection{{Name: "ui", Languages: []string{"en", "pl"}}})
	require.True(t, m.Cache().Contains(cache.MessageScope("ui", "pl")))

	_, err := remoteDocs(mem, "ui").SetMessage(ctx, "en", "msg1", "v2")
	require.NoError(t, err)

	var plDisturbed atomic.Bool
	require.Eventually(t, func() bool {
		if v, res := m.Cache().GetMessage("ui", "pl", "msg1"); res != cache.Found || v != "w1" {
			plDisturbed.Store(true)
		}
		v, res := m.Cache().GetMessage("ui", "en", "msg1")
		return res.Hit() && v == "v2"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, plDisturbed.Load(), "pl scope must stay cached")

	got, err := m.GetMessageAsync(ctx, "ui", "pl", "msg1").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w1", got)
}

func TestChangeFeed_RemoteConfigChangeReachesCache(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	m := startManager(t, mem, []Collection{{Name: "ui"}})

	_, err := remoteDocs(mem, "ui").SetConfigValue(ctx, "theme", "dark")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, res := m.Cache().GetConfig("ui", "theme")
		return res.Hit() && v == "dark"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestChangeFeed_BetweenManagers(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	a := startManager(t, mem, []Collection{{Name: "ui"}})
	b := startManager(t, mem, []Collection{{Name: "ui"}}, func(c *Config, d *Dependencies) {
		c.ChangeFeed.Consumer = "b"
		d.Origin = "peer"
	})

	_, err := b.SetMessage(ctx, "ui", "pl", "greet", "Cześć").Get(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, res := a.Cache().GetMessage("ui", "pl", "greet")
		return res.Hit() && v == "Cześć"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, a.Languages().Languages("ui"), "pl")
}

func TestSetMessage_RecordsLanguage(t *testing.T) {
	ctx := context.Background()
	m := startManager(t, natsclient.NewMemoryKV(), []Collection{{Name: "ui"}})

	_, err := m.SetMessage(ctx, "ui", "de", "greet", "Hallo").Get(ctx)
	require.NoError(t, err)

	got, err := m.GetMessageAsync(ctx, "ui", "de", "greet").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hallo", got)

	langs, err := m.LanguagesOf(ctx, "ui").Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, langs, "de")

	_, err = m.SetMessage(ctx, "ui", "d.e", "greet", "x").Get(ctx)
	assert.True(t, cserrors.IsInvalid(err))
}

func TestSetMessage_FlatKeyOverNestedGroup(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	b := mem.Bucket("game_ui")
	_, err := b.Put(ctx, "messages.pl", []byte(`{"data": {"menu": {"title": "Menu", "exit": "Wyjście"}}}`))
	require.NoError(t, err)
	m := startManager(t, mem, []Collection{{Name: "ui", DefaultLanguage: "pl", Languages: []string{"pl"}}})

	got, err := m.GetMessageAsync(ctx, "ui", "pl", "menu.title").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Menu", got)

	_, err = m.SetMessage(ctx, "ui", "pl", "menu", "Główne menu").Get(ctx)
	require.NoError(t, err)

	got, err = m.GetMessageAsync(ctx, "ui", "pl", "menu.title").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "menu.title", got, "the nested group was replaced in the document")
	got, err = m.GetMessageAsync(ctx, "ui", "pl", "menu").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Główne menu", got)
}

func TestConfigSnapshot(t *testing.T) {
	ctx := context.Background()
	m := startManager(t, natsclient.NewMemoryKV(), []Collection{{Name: "ui"}})

	_, err := m.SetConfig(ctx, "ui", "volume", 7).Get(ctx)
	require.NoError(t, err)
	_, err = m.SetConfig(ctx, "ui", "theme", "dark").Get(ctx)
	require.NoError(t, err)

	snap, err := m.ConfigSnapshot(ctx, "ui").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"volume": int64(7), "theme": "dark"}, snap)
}
