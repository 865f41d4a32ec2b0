package cache

import (
	"sync/atomic"
	"time"
)

// counters tracks cumulative cache activity.
type counters struct {
	requests     atomic.Int64
	hits         atomic.Int64
	misses       atomic.Int64
	evictions    atomic.Int64
	loads        atomic.Int64
	loadFailures atomic.Int64
	loadNanos    atomic.Int64
}

func (c *counters) reset() {
	c.requests.Store(0)
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.loads.Store(0)
	c.loadFailures.Store(0)
	c.loadNanos.Store(0)
}

// Stats is a point-in-time snapshot of cache statistics.
type Stats struct {
	HitRate            float64       `json:"hit_rate"`
	RequestCount       int64         `json:"request_count"`
	HitCount           int64         `json:"hit_count"`
	MissCount          int64         `json:"miss_count"`
	EvictionCount      int64         `json:"eviction_count"`
	Size               int64         `json:"size"`
	EstimatedSize      int64         `json:"estimated_size"`
	LoadCount          int64         `json:"load_count"`
	LoadFailureCount   int64         `json:"load_failure_count"`
	AverageLoadPenalty time.Duration `json:"average_load_penalty"`
}

// MissRate returns misses over requests, 0 when there were no requests.
func (s Stats) MissRate() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return float64(s.MissCount) / float64(s.RequestCount)
}

func (c *counters) snapshot(size, estimated int64) Stats {
	s := Stats{
		RequestCount:     c.requests.Load(),
		HitCount:         c.hits.Load(),
		MissCount:        c.misses.Load(),
		EvictionCount:    c.evictions.Load(),
		Size:             size,
		EstimatedSize:    estimated,
		LoadCount:        c.loads.Load(),
		LoadFailureCount: c.loadFailures.Load(),
	}
	if s.RequestCount > 0 {
		s.HitRate = float64(s.HitCount) / float64(s.RequestCount)
	}
	if total := s.LoadCount + s.LoadFailureCount; total > 0 {
		s.AverageLoadPenalty = time.Duration(c.loadNanos.Load() / total)
	}
	return s
}
