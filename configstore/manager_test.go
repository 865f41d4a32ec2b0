package configstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/configstore/changefeed"
	"github.com/c360/configstore/docstore"
	cserrors "github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/objectstore"
	"github.com/c360/configstore/pkg/cache"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Database = "game"
	cfg.DefaultCollection = "settings"
	cfg.Workers = 4
	cfg.QueueSize = 64
	cfg.OperationTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.ChangeFeed.MaxAttempts = 3
	cfg.ChangeFeed.InitialDelay = time.Millisecond
	cfg.ChangeFeed.MaxDelay = 5 * time.Millisecond
	return cfg
}

func newManager(t *testing.T, mem *natsclient.MemoryKV, mutate ...func(*Config, *Dependencies)) *Manager {
	t.Helper()
	cfg := testConfig()
	deps := Dependencies{Provider: mem, Origin: "local"}
	for _, fn := range mutate {
		fn(&cfg, &deps)
	}
	m, err := New(deps, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func startManager(t *testing.T, mem *natsclient.MemoryKV, collections []Collection, mutate ...func(*Config, *Dependencies)) *Manager {
	t.Helper()
	ctx := context.Background()
	m := newManager(t, mem, mutate...)
	for _, c := range collections {
		require.NoError(t, m.RegisterCollection(ctx, c))
	}
	require.NoError(t, m.Initialize(ctx))
	return m
}

// remoteDocs writes to a collection the way another process would.
func remoteDocs(mem *natsclient.MemoryKV, collection string) *docstore.Store {
	b := mem.Bucket(objectstore.BucketName("game", collection))
	return docstore.New(natsclient.NewKVStore(b, nil), collection, docstore.WithOrigin("remote"))
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Dependencies{}, testConfig())
	assert.True(t, cserrors.IsInvalid(err))

	cfg := testConfig()
	cfg.Workers = 0
	_, err = New(Dependencies{Provider: natsclient.NewMemoryKV()}, cfg)
	assert.True(t, cserrors.IsInvalid(err))
}

func TestManager_InitializeTwiceIsIllegal(t *testing.T) {
	m := startManager(t, natsclient.NewMemoryKV(), nil)

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindIllegalState))
	assert.ErrorIs(t, err, cserrors.ErrAlreadyInitialized)
}

func TestManager_ShutdownIsIdempotent(t *testing.T) {
	var released atomic.Int32
	m := newManager(t, natsclient.NewMemoryKV(), func(_ *Config, d *Dependencies) {
		d.Release = func(context.Context) error {
			released.Add(1)
			return nil
		}
	})

	// Never initialized.
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, int32(1), released.Load())

	// Restart after shutdown is allowed.
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, int32(2), released.Load())
}

func TestManager_InitializeUnreachableDatabase(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	mem.FailOpen(objectstore.BucketName("game", "settings"), errors.New("no servers available"))
	m := newManager(t, mem)

	err := m.Initialize(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindConnection))
	assert.True(t, m.Health().IsUnhealthy())

	_, err = m.SetConfig(ctx, "ui", "volume", 3).Get(ctx)
	assert.True(t, cserrors.IsKind(err, cserrors.KindIllegalState))

	mem.FailOpen(objectstore.BucketName("game", "settings"), nil)
	require.NoError(t, m.Initialize(ctx))
	assert.True(t, m.Health().IsHealthy())
}

func TestManager_PartialInitializeCanShutdown(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	mem.FailOpen(objectstore.BucketName("game", "broken"), errors.New("stream offline"))
	m := newManager(t, mem)
	require.NoError(t, m.RegisterCollection(ctx, Collection{Name: "ui"}))
	require.NoError(t, m.RegisterCollection(ctx, Collection{Name: "broken"}))

	err := m.Initialize(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindConnection))
	assert.Empty(t, m.Collections())
	assert.Equal(t, 0, mem.Bucket(objectstore.BucketName("game", "ui")).ActiveWatchers())

	require.NoError(t, m.Shutdown(ctx))
}

func TestManager_OperationsBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, natsclient.NewMemoryKV())

	_, err := m.GetConfigAsync(ctx, "ui", "volume", 1).Get(ctx)
	assert.True(t, cserrors.IsKind(err, cserrors.KindIllegalState))
	assert.ErrorIs(t, err, cserrors.ErrNotInitialized)

	_, err = m.InvalidateAllAsync(ctx).Get(ctx)
	assert.True(t, cserrors.IsKind(err, cserrors.KindIllegalState))
}

func TestManager_RegisterCollectionAfterInitializeWarms(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	remote := remoteDocs(mem, "ui")
	_, err := remote.SetConfigValue(ctx, "theme", "dark")
	require.NoError(t, err)
	_, err = remote.SetMessage(ctx, "pl", "menu.title", "Menu")
	require.NoError(t, err)

	m := startManager(t, mem, nil)
	require.NoError(t, m.RegisterCollection(ctx, Collection{Name: "ui", Languages: []string{"en"}}))

	assert.Equal(t, []string{"ui"}, m.Collections())
	assert.True(t, m.Cache().Contains(cache.ConfigScope("ui")))
	assert.True(t, m.Cache().Contains(cache.MessageScope("ui", "en")))
	assert.True(t, m.Cache().Contains(cache.MessageScope("ui", "pl")))
	assert.Equal(t, []string{"en", "pl"}, m.Languages().Languages("ui"))

	state, ok := m.WatcherState("ui")
	assert.True(t, ok)
	assert.Equal(t, changefeed.StateWatching, state)
}

func TestManager_RegisterCollectionRejectsBadNames(t *testing.T) {
	m := newManager(t, natsclient.NewMemoryKV())
	err := m.RegisterCollection(context.Background(), Collection{Name: "ui.main"})
	assert.True(t, cserrors.IsInvalid(err))
	err = m.RegisterCollection(context.Background(), Collection{Name: "ui", Languages: []string{"e n"}})
	assert.True(t, cserrors.IsInvalid(err))
}

func TestManager_UndeclaredCollectionAttachesOnFirstUse(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	m := startManager(t, mem, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.GetConfigAsync(ctx, "lobby", "size", 4).Get(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"lobby"}, m.Collections())
	assert.Equal(t, 1, mem.Bucket(objectstore.BucketName("game", "lobby")).ActiveWatchers())
}

func TestManager_WatcherRecoversWithinBudget(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	bucket := mem.Bucket(objectstore.BucketName("game", "ui"))
	remote := remoteDocs(mem, "ui")
	m := startManager(t, mem, []Collection{{Name: "ui"}})

	_, err := remote.SetConfigValue(ctx, "round", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, res := m.Cache().GetConfig("ui", "round")
		return res.Hit() && v == int64(1)
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 2; i++ {
		bucket.SeverWatchers(errors.New("connection reset"))
		_, err := remote.SetConfigValue(ctx, "round", i+2)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			state, _ := m.WatcherState("ui")
			return state == changefeed.StateWatching && bucket.ActiveWatchers() == 1
		}, 2*time.Second, time.Millisecond)
	}

	_, err = remote.SetConfigValue(ctx, "round", 4)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, res := m.Cache().GetConfig("ui", "round")
		return res.Hit() && v == int64(4)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, bucket.ActiveWatchers())
	assert.True(t, m.Health().IsHealthy())

	persisted, ok, err := remote.LoadConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	v, err := m.GetConfigAsync(ctx, "ui", "round", 0).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, persisted.Data["round"], v)
}

func TestManager_ChangeFeedFatalDegradesHealth(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	bucket := mem.Bucket(objectstore.BucketName("game", "ui"))
	remote := remoteDocs(mem, "ui")
	_, err := remote.SetConfigValue(ctx, "theme", "dark")
	require.NoError(t, err)

	fatal := make(chan string, 1)
	m := startManager(t, mem, []Collection{{Name: "ui"}}, func(_ *Config, d *Dependencies) {
		d.OnFatal = func(collection string, _ error) { fatal <- collection }
	})

	bucket.FailNextWatch(10, errors.New("no responders"))
	bucket.SeverWatchers(errors.New("connection closed"))

	select {
	case name := <-fatal:
		assert.Equal(t, "ui", name)
	case <-time.After(2 * time.Second):
		t.Fatal("change feed did not give up")
	}

	state, _ := m.WatcherState("ui")
	assert.Equal(t, changefeed.StateStopped, state)

	h := m.Health()
	assert.True(t, h.IsDegraded())
	var found bool
	for _, sub := range h.SubStatuses {
		if sub.Component == "changefeed.ui" {
			found = true
			assert.True(t, sub.IsDegraded())
			assert.Contains(t, sub.Message, "stale")
		}
	}
	assert.True(t, found)

	// Cached data stays servable.
	v, err := m.GetConfigAsync(ctx, "ui", "theme", "light").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", v)
}

func TestManager_HealthDetails(t *testing.T) {
	m := startManager(t, natsclient.NewMemoryKV(), []Collection{{Name: "ui"}})

	h := m.Health()
	assert.True(t, h.IsHealthy())
	assert.Equal(t, 1, h.Details["collections"])
	assert.Contains(t, h.Details, "cache_hit_rate")
}

func TestManager_ShutdownStopsWatchers(t *testing.T) {
	mem := natsclient.NewMemoryKV()
	bucket := mem.Bucket(objectstore.BucketName("game", "ui"))
	m := startManager(t, mem, []Collection{{Name: "ui"}})
	require.Equal(t, 1, bucket.ActiveWatchers())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 0, bucket.ActiveWatchers())
	assert.Empty(t, m.Collections())
	_, ok := m.WatcherState("ui")
	assert.False(t, ok)
}

func TestManager_ChangeFeedDisabled(t *testing.T) {
	mem := natsclient.NewMemoryKV()
	bucket := mem.Bucket(objectstore.BucketName("game", "ui"))
	m := startManager(t, mem, []Collection{{Name: "ui"}}, func(c *Config, _ *Dependencies) {
		c.ChangeFeed.Enabled = false
	})

	assert.Equal(t, 0, bucket.ActiveWatchers())
	_, ok := m.WatcherState("ui")
	assert.False(t, ok)
	assert.Equal(t, []string{"ui"}, m.Collections())
}
