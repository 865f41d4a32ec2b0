package cache

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/configstore/metric"
)

func gather(t *testing.T, registry *metric.MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestCacheMetricsExport(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newTestManager(t, DefaultConfig(), WithMetrics(registry, "lobby"))

	m.PutConfigData("quests", map[string]any{"a": 1, "b": 2})
	m.PutMessageData("quests", "en", map[string]string{"hi": "Hello"})
	_, _ = m.GetConfig("quests", "a")
	_, _ = m.GetConfig("ui", "a")
	m.RecordLoad(20*time.Millisecond, nil)
	m.RecordLoad(5*time.Millisecond, errors.New("stream offline"))

	byName := gather(t, registry)

	hits := byName["configstore_cache_hits_total"]
	require.NotNil(t, hits, "hits metric should exist")
	assert.Equal(t, 1.0, hits.Metric[0].GetCounter().GetValue())
	require.Len(t, hits.Metric[0].Label, 1)
	assert.Equal(t, "component", hits.Metric[0].Label[0].GetName())
	assert.Equal(t, "lobby", hits.Metric[0].Label[0].GetValue())

	misses := byName["configstore_cache_misses_total"]
	require.NotNil(t, misses)
	assert.Equal(t, 1.0, misses.Metric[0].GetCounter().GetValue())

	size := byName["configstore_cache_size"]
	require.NotNil(t, size)
	assert.Equal(t, 2.0, size.Metric[0].GetGauge().GetValue())

	entries := byName["configstore_cache_entries"]
	require.NotNil(t, entries)
	assert.Equal(t, 3.0, entries.Metric[0].GetGauge().GetValue())

	loads := byName["configstore_cache_load_duration_seconds"]
	require.NotNil(t, loads)
	assert.Equal(t, uint64(2), loads.Metric[0].GetHistogram().GetSampleCount())

	failures := byName["configstore_cache_load_failures_total"]
	require.NotNil(t, failures)
	assert.Equal(t, 1.0, failures.Metric[0].GetCounter().GetValue())
}

func TestCacheWithoutMetrics(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	assert.Nil(t, m.metrics)

	m.PutConfigData("quests", map[string]any{"a": 1})
	_, res := m.GetConfig("quests", "a")
	assert.Equal(t, Found, res)
	m.RecordLoad(time.Millisecond, nil)
}
