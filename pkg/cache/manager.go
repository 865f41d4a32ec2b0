package cache

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/metric"
)

// slot is an immutable snapshot for one scope. removed latches once the slot
// leaves the cache so its size is subtracted exactly once.
type slot struct {
	scope     Scope
	config    map[string]any
	messages  map[string]string
	size      int64
	expiresAt time.Time
	removed   atomic.Bool
}

func (s *slot) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && now.After(s.expiresAt)
}

// Ticket is taken before loading a scope from persistence. Committing with a
// ticket fails if the scope was invalidated after the ticket was issued, so a
// slow load can never reinstate data an invalidation already removed.
type Ticket struct {
	scope Scope
	gen   uint64
	epoch uint64
}

// Scope returns the scope the ticket was issued for.
func (t Ticket) Scope() Scope { return t.scope }

// Manager holds config and message snapshots per collection.
//
// Reads are lock-free loads from a sync.Map. Writers are serialised and
// maintain a bounded LRU (with optional expiry) over scopes; its eviction
// callback drops the snapshot and counts the eviction. Recency of reads is
// recorded through a bounded buffer that writers drain, so reads never block.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	slots sync.Map // Scope -> *slot

	mu    sync.Mutex
	lru   *expirable.LRU[Scope, *slot]
	gens  map[string]uint64
	epoch uint64

	reads   chan Scope
	scopes  atomic.Int64
	entries atomic.Int64
	stats   counters
	metrics *cacheMetrics
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics exports cache statistics through registry under prefix.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(m *Manager) error {
		if registry == nil {
			return nil
		}
		cm, err := newCacheMetrics(registry, prefix)
		if err != nil {
			return err
		}
		m.metrics = cm
		return nil
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now != nil {
			m.now = now
		}
		return nil
	}
}

// NewManager creates a cache manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewManager", "config validation failed")
	}

	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		gens:   make(map[string]uint64),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.Wrap(err, "cache", "NewManager", "apply option")
		}
	}
	if cfg.ReadBufferSize > 0 {
		m.reads = make(chan Scope, cfg.ReadBufferSize)
	}
	// Expiry is enforced by the read path and swept on writes. A TTL here
	// would start a cleanup goroutine the LRU gives no way to stop.
	m.lru = expirable.NewLRU[Scope, *slot](cfg.MaxEntries, m.onEvict, 0)
	m.logger = m.logger.With("component", "cache")

	return m, nil
}

// onEvict runs for every removal from the LRU, including explicit ones;
// those have already latched removed and are skipped here. It runs under the
// LRU's lock and must not call back into it.
func (m *Manager) onEvict(scope Scope, s *slot) {
	if s.removed.Swap(true) {
		return
	}
	m.slots.CompareAndDelete(scope, s)
	m.release(s)
	m.stats.evictions.Add(1)
	m.metrics.recordEviction()
	m.metrics.updateSize(m.scopes.Load(), m.entries.Load())
	m.logger.Debug("Evicted cache scope", "scope", scope.String())
}

// PutConfigData replaces the config snapshot of collection.
func (m *Manager) PutConfigData(collection string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(newConfigSlot(collection, data))
}

// PutMessageData replaces the message snapshot of collection for lang.
func (m *Manager) PutMessageData(collection, lang string, data map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(newMessageSlot(collection, lang, data))
}

// Begin issues a ticket for loading scope.
func (m *Manager) Begin(scope Scope) Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Ticket{scope: scope, gen: m.gens[scope.Collection], epoch: m.epoch}
}

func (m *Manager) currentLocked(t Ticket) bool {
	return t.epoch == m.epoch && t.gen == m.gens[t.scope.Collection]
}

// CommitConfig stores data for the ticket's config scope unless the scope was
// invalidated since the ticket was issued. It reports whether data was stored.
func (m *Manager) CommitConfig(t Ticket, data map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.scope.IsMessages() || !m.currentLocked(t) {
		return false
	}
	m.storeLocked(newConfigSlot(t.scope.Collection, data))
	return true
}

// CommitMessages is CommitConfig for a message scope.
func (m *Manager) CommitMessages(t Ticket, data map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !t.scope.IsMessages() || !m.currentLocked(t) {
		return false
	}
	m.storeLocked(newMessageSlot(t.scope.Collection, t.scope.Lang, data))
	return true
}

// SetConfigValue updates one key in a cached config snapshot. Nothing happens
// when the scope is not cached. It reports whether a snapshot was updated.
func (m *Manager) SetConfigValue(collection, key string, value any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.load(ConfigScope(collection))
	if !ok {
		return false
	}
	next := make(map[string]any, len(cur.config)+1)
	for k, v := range cur.config {
		next[k] = v
	}
	next[key] = value
	m.storeLocked(&slot{scope: cur.scope, config: next, size: int64(len(next))})
	return true
}

// SetMessageValue updates one key in a cached message snapshot. A key that
// is the dotted prefix of cached keys may replace a whole nested group in the
// stored document, so the scope is dropped instead and left to the next load.
func (m *Manager) SetMessageValue(collection, lang, key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.load(MessageScope(collection, lang))
	if !ok {
		return false
	}
	group := key + "."
	next := make(map[string]string, len(cur.messages)+1)
	for k, v := range cur.messages {
		if strings.HasPrefix(k, group) {
			m.gens[collection]++
			m.removeLocked(cur.scope)
			m.updateSizeLocked()
			return false
		}
		next[k] = v
	}
	next[key] = value
	m.storeLocked(&slot{scope: cur.scope, messages: next, size: int64(len(next))})
	return true
}

// GetConfig reads key from the config snapshot of collection.
func (m *Manager) GetConfig(collection, key string) (any, Lookup) {
	s, ok := m.load(ConfigScope(collection))
	if !ok {
		m.recordLookup(false)
		return nil, ScopeMissing
	}
	m.touch(s.scope)
	v, found := s.config[key]
	m.recordLookup(found)
	if !found {
		return nil, KeyMissing
	}
	return v, Found
}

// GetConfigOr reads key and falls back to def when it is not cached.
func (m *Manager) GetConfigOr(collection, key string, def any) any {
	if v, res := m.GetConfig(collection, key); res == Found {
		return v
	}
	return def
}

// GetMessage reads key from the message snapshot of collection for lang.
func (m *Manager) GetMessage(collection, lang, key string) (string, Lookup) {
	v, res := m.PeekMessage(collection, lang, key)
	m.recordLookup(res == Found)
	return v, res
}

// PeekMessage is GetMessage without counting a request. Callers that walk
// several scopes for one logical read peek each of them and report the
// outcome once through RecordLookup.
func (m *Manager) PeekMessage(collection, lang, key string) (string, Lookup) {
	s, ok := m.load(MessageScope(collection, lang))
	if !ok {
		return "", ScopeMissing
	}
	m.touch(s.scope)
	v, found := s.messages[key]
	if !found {
		return "", KeyMissing
	}
	return v, Found
}

// Contains reports whether scope is cached, without counting a request.
func (m *Manager) Contains(scope Scope) bool {
	_, ok := m.load(scope)
	return ok
}

// RecordLookup counts one request that was resolved with peeks.
func (m *Manager) RecordLookup(hit bool) {
	m.recordLookup(hit)
}

// Invalidate removes every scope of collection.
func (m *Manager) Invalidate(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gens[collection]++
	m.slots.Range(func(k, _ any) bool {
		if scope := k.(Scope); scope.Collection == collection {
			m.removeLocked(scope)
		}
		return true
	})
	m.updateSizeLocked()
}

// InvalidateScope removes a single scope.
func (m *Manager) InvalidateScope(scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gens[scope.Collection]++
	m.removeLocked(scope)
	m.updateSizeLocked()
}

// InvalidateAll removes every scope. Cumulative statistics are kept.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	m.slots.Range(func(k, _ any) bool {
		m.removeLocked(k.(Scope))
		return true
	})
	m.lru.Purge()
	m.updateSizeLocked()
}

// ResetStats zeroes the cumulative statistics.
func (m *Manager) ResetStats() {
	m.stats.reset()
}

// RecordLoad records the outcome and duration of loading a scope.
func (m *Manager) RecordLoad(d time.Duration, err error) {
	if err != nil {
		m.stats.loadFailures.Add(1)
	} else {
		m.stats.loads.Add(1)
	}
	m.stats.loadNanos.Add(int64(d))
	m.metrics.recordLoad(d.Seconds(), err != nil)
}

// Stats returns a snapshot of the cache statistics.
func (m *Manager) Stats() Stats {
	return m.stats.snapshot(m.scopes.Load(), m.entries.Load())
}

// Scopes lists the cached scopes.
func (m *Manager) Scopes() []Scope {
	now := m.now()
	var scopes []Scope
	m.slots.Range(func(_, v any) bool {
		if s := v.(*slot); !s.expired(now) {
			scopes = append(scopes, s.scope)
		}
		return true
	})
	return scopes
}

func (m *Manager) load(scope Scope) (*slot, bool) {
	v, ok := m.slots.Load(scope)
	if !ok {
		return nil, false
	}
	s := v.(*slot)
	if s.expired(m.now()) {
		return nil, false
	}
	return s, true
}

func (m *Manager) recordLookup(hit bool) {
	m.stats.requests.Add(1)
	if hit {
		m.stats.hits.Add(1)
	} else {
		m.stats.misses.Add(1)
	}
	m.metrics.recordLookup(hit)
}

// touch records a read for the LRU without blocking; reads are dropped when
// the buffer is full.
func (m *Manager) touch(scope Scope) {
	if m.reads == nil {
		return
	}
	select {
	case m.reads <- scope:
	default:
	}
}

func (m *Manager) drainReadsLocked() {
	if m.reads == nil {
		return
	}
	for {
		select {
		case scope := <-m.reads:
			m.lru.Get(scope)
		default:
			return
		}
	}
}

func (m *Manager) storeLocked(s *slot) {
	m.drainReadsLocked()
	if m.cfg.TTL > 0 {
		m.expireLocked()
		s.expiresAt = m.now().Add(m.cfg.TTL)
	}
	if old, ok := m.slots.Swap(s.scope, s); ok {
		if o := old.(*slot); !o.removed.Swap(true) {
			m.release(o)
		}
	}
	m.scopes.Add(1)
	m.entries.Add(s.size)
	m.lru.Add(s.scope, s)
	m.updateSizeLocked()
}

// expireLocked drops expired slots through the LRU so onEvict counts them as
// evictions.
func (m *Manager) expireLocked() {
	now := m.now()
	m.slots.Range(func(k, v any) bool {
		if v.(*slot).expired(now) {
			m.lru.Remove(k.(Scope))
		}
		return true
	})
}

func (m *Manager) removeLocked(scope Scope) {
	if v, ok := m.slots.LoadAndDelete(scope); ok {
		if s := v.(*slot); !s.removed.Swap(true) {
			m.release(s)
		}
	}
	m.lru.Remove(scope)
}

func (m *Manager) release(s *slot) {
	m.scopes.Add(-1)
	m.entries.Add(-s.size)
}

func (m *Manager) updateSizeLocked() {
	m.metrics.updateSize(m.scopes.Load(), m.entries.Load())
}

func newConfigSlot(collection string, data map[string]any) *slot {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return &slot{scope: ConfigScope(collection), config: cp, size: int64(len(cp))}
}

func newMessageSlot(collection, lang string, data map[string]string) *slot {
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return &slot{scope: MessageScope(collection, lang), messages: cp, size: int64(len(cp))}
}
