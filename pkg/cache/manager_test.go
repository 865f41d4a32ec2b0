package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/c360/configstore/metric"
)

func newTestManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	return m
}

func TestManager_ConfigHitAndMiss(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	_, res := m.GetConfig("quests", "maxActive")
	assert.Equal(t, ScopeMissing, res)

	m.PutConfigData("quests", map[string]any{"maxActive": int64(5)})

	v, res := m.GetConfig("quests", "maxActive")
	assert.Equal(t, Found, res)
	assert.Equal(t, int64(5), v)

	_, res = m.GetConfig("quests", "unknown")
	assert.Equal(t, KeyMissing, res)
	assert.Equal(t, "fallback", m.GetConfigOr("quests", "unknown", "fallback"))

	s := m.Stats()
	assert.Equal(t, int64(4), s.RequestCount)
	assert.Equal(t, int64(1), s.HitCount)
	assert.Equal(t, int64(3), s.MissCount)
	assert.Equal(t, int64(1), s.Size)
	assert.Equal(t, int64(1), s.EstimatedSize)
}

func TestManager_Messages(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	m.PutMessageData("quests", "fr", map[string]string{"greeting": "Bonjour"})
	m.PutMessageData("quests", "en", map[string]string{"greeting": "Hello"})

	v, res := m.GetMessage("quests", "fr", "greeting")
	assert.Equal(t, Found, res)
	assert.Equal(t, "Bonjour", v)

	_, res = m.GetMessage("quests", "de", "greeting")
	assert.Equal(t, ScopeMissing, res)

	m.InvalidateScope(MessageScope("quests", "fr"))
	_, res = m.GetMessage("quests", "fr", "greeting")
	assert.Equal(t, ScopeMissing, res)
	v, res = m.GetMessage("quests", "en", "greeting")
	assert.Equal(t, Found, res)
	assert.Equal(t, "Hello", v)
}

func TestManager_PutReplacesSnapshot(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	m.PutConfigData("quests", map[string]any{"a": 1, "b": 2})
	m.PutConfigData("quests", map[string]any{"c": 3})

	_, res := m.GetConfig("quests", "a")
	assert.Equal(t, KeyMissing, res, "put must replace, not merge")
	assert.Equal(t, int64(1), m.Stats().EstimatedSize)
}

func TestManager_PutCopiesInput(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	data := map[string]any{"a": 1}
	m.PutConfigData("quests", data)
	data["a"] = 2

	v, _ := m.GetConfig("quests", "a")
	assert.Equal(t, 1, v)
}

func TestManager_HitRate(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	assert.Equal(t, 0.0, m.Stats().HitRate)
	assert.Equal(t, 0.0, m.Stats().MissRate())

	const n = 7
	for i := 0; i < n; i++ {
		m.GetConfig("quests", "k")
	}
	m.PutConfigData("quests", map[string]any{"k": true})
	for i := 0; i < n; i++ {
		m.GetConfig("quests", "k")
	}

	s := m.Stats()
	assert.Equal(t, int64(2*n), s.RequestCount)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestManager_EvictionOnCapacity(t *testing.T) {
	cfg := Config{MaxEntries: 2, ReadBufferSize: 16}
	m := newTestManager(t, cfg)

	m.PutConfigData("a", map[string]any{"k": 1})
	m.PutConfigData("b", map[string]any{"k": 1})
	m.PutConfigData("c", map[string]any{"k": 1})

	s := m.Stats()
	assert.Equal(t, int64(1), s.EvictionCount)
	assert.Equal(t, int64(2), s.Size)
	assert.False(t, m.Contains(ConfigScope("a")))
	assert.True(t, m.Contains(ConfigScope("c")))
}

func TestManager_ReadsRefreshRecency(t *testing.T) {
	m := newTestManager(t, Config{MaxEntries: 2, ReadBufferSize: 16})

	m.PutConfigData("a", map[string]any{"k": 1})
	m.PutConfigData("b", map[string]any{"k": 1})
	_, res := m.GetConfig("a", "k")
	require.Equal(t, Found, res)

	m.PutConfigData("c", map[string]any{"k": 1})

	assert.True(t, m.Contains(ConfigScope("a")), "recently read scope should survive")
	assert.False(t, m.Contains(ConfigScope("b")))
}

func TestManager_InvalidationIsNotEviction(t *testing.T) {
	m := newTestManager(t, Config{MaxEntries: 10})
	m.PutConfigData("quests", map[string]any{"k": 1})
	m.PutMessageData("quests", "en", map[string]string{"k": "v"})
	m.PutConfigData("items", map[string]any{"k": 1})

	m.Invalidate("quests")

	assert.False(t, m.Contains(ConfigScope("quests")))
	assert.False(t, m.Contains(MessageScope("quests", "en")))
	assert.True(t, m.Contains(ConfigScope("items")))
	s := m.Stats()
	assert.Equal(t, int64(0), s.EvictionCount)
	assert.Equal(t, int64(1), s.Size)
	assert.Equal(t, int64(1), s.EstimatedSize)
}

func TestManager_InvalidateAllKeepsCounters(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	m.PutConfigData("quests", map[string]any{"k": 1})
	m.GetConfig("quests", "k")
	m.GetConfig("quests", "x")

	m.InvalidateAll()

	s := m.Stats()
	assert.Equal(t, int64(0), s.Size)
	assert.Equal(t, int64(0), s.EstimatedSize)
	assert.Equal(t, int64(2), s.RequestCount)
	assert.Equal(t, int64(1), s.HitCount)
	assert.Equal(t, int64(0), s.EvictionCount)
	assert.Empty(t, m.Scopes())

	m.ResetStats()
	assert.Equal(t, Stats{}, m.Stats())
}

func TestManager_TicketRejectedAfterInvalidation(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	stale := m.Begin(ConfigScope("quests"))
	m.Invalidate("quests")
	assert.False(t, m.CommitConfig(stale, map[string]any{"k": "old"}))
	assert.False(t, m.Contains(ConfigScope("quests")))

	fresh := m.Begin(ConfigScope("quests"))
	assert.True(t, m.CommitConfig(fresh, map[string]any{"k": "new"}))

	staleMsg := m.Begin(MessageScope("quests", "en"))
	m.InvalidateAll()
	assert.False(t, m.CommitMessages(staleMsg, map[string]string{"k": "v"}))

	other := m.Begin(MessageScope("items", "en"))
	m.Invalidate("quests")
	assert.True(t, m.CommitMessages(other, map[string]string{"k": "v"}), "other collections are unaffected")

	assert.False(t, m.CommitConfig(other, nil), "message ticket cannot commit config")
}

func TestManager_SetValueIsCopyOnWrite(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	assert.False(t, m.SetConfigValue("quests", "k", 1), "uncached scope is left to the next load")
	_, res := m.GetConfig("quests", "k")
	assert.Equal(t, ScopeMissing, res)

	m.PutConfigData("quests", map[string]any{"a": 1})
	require.True(t, m.SetConfigValue("quests", "b", 2))
	v, _ := m.GetConfig("quests", "b")
	assert.Equal(t, 2, v)
	v, _ = m.GetConfig("quests", "a")
	assert.Equal(t, 1, v)

	m.PutMessageData("quests", "en", map[string]string{"hi": "Hello"})
	require.True(t, m.SetMessageValue("quests", "en", "bye", "Goodbye"))
	msg, _ := m.GetMessage("quests", "en", "bye")
	assert.Equal(t, "Goodbye", msg)
	assert.Equal(t, int64(4), m.Stats().EstimatedSize, "a, b, hi and bye")
}

func TestManager_SetMessageValueOverGroupDropsScope(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	m.PutMessageData("ui", "en", map[string]string{"menu.title": "Menu", "menuBar": "Bar"})

	assert.True(t, m.SetMessageValue("ui", "en", "menuB", "x"), "plain prefix is not a group")
	assert.False(t, m.SetMessageValue("ui", "en", "menu", "Main"))
	assert.False(t, m.Contains(MessageScope("ui", "en")))
	assert.Equal(t, int64(0), m.Stats().Size)
}

func TestManager_TTLExpiry(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := newTestManager(t, Config{MaxEntries: 10, TTL: time.Hour}, WithClock(clock))
	m.PutConfigData("quests", map[string]any{"k": 1})

	_, res := m.GetConfig("quests", "k")
	assert.Equal(t, Found, res)

	now.Add(int64(2 * time.Hour))
	_, res = m.GetConfig("quests", "k")
	assert.Equal(t, ScopeMissing, res)
	assert.Empty(t, m.Scopes())
	assert.Equal(t, int64(0), m.Stats().EvictionCount, "expiry is swept on the next write")

	m.PutConfigData("items", map[string]any{"k": 1})
	s := m.Stats()
	assert.Equal(t, int64(1), s.EvictionCount)
	assert.Equal(t, int64(1), s.Size)
	assert.Equal(t, []Scope{ConfigScope("items")}, m.Scopes())
}

func TestManager_PeekDoesNotCount(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	m.PutMessageData("quests", "en", map[string]string{"hi": "Hello"})

	v, res := m.PeekMessage("quests", "en", "hi")
	assert.Equal(t, Found, res)
	assert.Equal(t, "Hello", v)
	_, res = m.PeekMessage("quests", "en", "bye")
	assert.Equal(t, KeyMissing, res)
	_, res = m.PeekMessage("quests", "pl", "hi")
	assert.Equal(t, ScopeMissing, res)
	assert.Equal(t, int64(0), m.Stats().RequestCount)

	m.RecordLookup(false)
	s := m.Stats()
	assert.Equal(t, int64(1), s.RequestCount)
	assert.Equal(t, int64(1), s.MissCount)
}

func TestManager_RecordLoad(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	m.RecordLoad(10*time.Millisecond, nil)
	m.RecordLoad(30*time.Millisecond, errors.New("boom"))

	s := m.Stats()
	assert.Equal(t, int64(1), s.LoadCount)
	assert.Equal(t, int64(1), s.LoadFailureCount)
	assert.Equal(t, 20*time.Millisecond, s.AverageLoadPenalty)
}

func TestManager_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newTestManager(t, Config{MaxEntries: 1}, WithMetrics(registry, "store"))

	m.PutConfigData("a", map[string]any{"k": 1})
	m.GetConfig("a", "k")
	m.GetConfig("a", "x")
	m.PutConfigData("b", map[string]any{"k": 1, "j": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.requests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.size))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.entries))

	_, err := NewManager(DefaultConfig(), WithMetrics(registry, "store"))
	assert.Error(t, err, "duplicate registration must fail")
}

func TestManager_ConcurrentReadersAndWriters(t *testing.T) {
	m := newTestManager(t, Config{MaxEntries: 8, ReadBufferSize: 4})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					m.GetConfig(fmt.Sprintf("c%d", r%4), "k")
					m.GetMessage(fmt.Sprintf("c%d", r%4), "en", "k")
				}
			}
		}(r)
	}
	for i := 0; i < 500; i++ {
		c := fmt.Sprintf("c%d", i%12)
		m.PutConfigData(c, map[string]any{"k": i})
		m.PutMessageData(c, "en", map[string]string{"k": "v"})
		if i%7 == 0 {
			m.Invalidate(c)
		}
	}
	close(stop)
	wg.Wait()

	s := m.Stats()
	assert.Equal(t, s.HitCount+s.MissCount, s.RequestCount)
	assert.LessOrEqual(t, s.Size, int64(8))
	assert.Equal(t, int64(len(m.Scopes())), s.Size)
}

// After any sequence of puts and invalidations, reads agree with a plain map
// model: an invalidated collection never serves data from before the
// invalidation.
func TestManager_InvalidationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m, err := NewManager(Config{ReadBufferSize: 8})
		require.NoError(rt, err)
		model := map[string]int{}
		collections := rapid.SampledFrom([]string{"quests", "items", "npcs"})

		steps := rapid.IntRange(1, 50).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			c := collections.Draw(rt, "collection")
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0, 1:
				m.PutConfigData(c, map[string]any{"v": i})
				model[c] = i
			case 2:
				m.Invalidate(c)
				delete(model, c)
			case 3:
				m.InvalidateAll()
				model = map[string]int{}
			}

			for _, name := range []string{"quests", "items", "npcs"} {
				v, res := m.GetConfig(name, "v")
				want, ok := model[name]
				if !ok {
					if res != ScopeMissing {
						rt.Fatalf("%s: expected miss after invalidation, got %v", name, v)
					}
					continue
				}
				if res != Found || v != want {
					rt.Fatalf("%s: expected %d, got %v (%s)", name, want, v, res)
				}
			}
		}

		s := m.Stats()
		if s.HitCount+s.MissCount != s.RequestCount {
			rt.Fatalf("hits+misses != requests: %+v", s)
		}
	})
}
