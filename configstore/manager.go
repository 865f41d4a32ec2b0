package configstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/c360/configstore/changefeed"
	"github.com/c360/configstore/docstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/health"
	"github.com/c360/configstore/metric"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/objectstore"
	"github.com/c360/configstore/pkg/cache"
	"github.com/c360/configstore/pkg/stream"
	"github.com/c360/configstore/pkg/worker"
)

// Health component names.
const (
	componentStore      = "store"
	componentChangeFeed = "changefeed."
)

// Dependencies are the collaborators a Manager is built from. Provider is
// required; the rest default sensibly.
type Dependencies struct {
	// Provider opens KV buckets: a connected natsclient.Client or a
	// natsclient.MemoryKV.
	Provider natsclient.BucketProvider
	// Release closes the connection behind Provider on Shutdown.
	Release func(ctx context.Context) error

	Logger    *slog.Logger
	Registry  *metric.MetricsRegistry
	Languages *LanguageRegistry
	Health    *health.Monitor
	// Tokens overrides where change-feed resume tokens are kept.
	Tokens changefeed.TokenStore
	// OnFatal is told when a collection's change feed gave up.
	OnFatal changefeed.FatalFunc
	// Origin identifies this process in written documents.
	Origin string
	Clock  func() time.Time
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateShutdown
)

type attached struct {
	coll    Collection
	kv      *natsclient.KVStore
	docs    *docstore.Store
	watcher *changefeed.Watcher
}

// Manager is the entry point of the store. It owns the cache, the worker
// pool, the typed object store and one change-feed watcher per collection.
type Manager struct {
	cfg       Config
	deps      Dependencies
	logger    *slog.Logger
	metrics   *metric.Metrics
	cache     *cache.Manager
	languages *LanguageRegistry
	health    *health.Monitor
	origin    string
	now       func() time.Time

	attachFlight singleflight.Group
	lifeMu       sync.Mutex

	mu          sync.RWMutex
	state       lifecycle
	pool        *worker.Pool[worker.Task]
	router      *objectstore.Router
	objects     *objectstore.Store
	tokens      changefeed.TokenStore
	declared    map[string]Collection
	collections map[string]*attached
}

// New creates a Manager. Nothing is opened until Initialize.
func New(deps Dependencies, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "configstore", "New", "bucket provider is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:         cfg,
		deps:        deps,
		logger:      logger.With("component", "configstore"),
		languages:   deps.Languages,
		health:      deps.Health,
		origin:      deps.Origin,
		now:         deps.Clock,
		declared:    make(map[string]Collection),
		collections: make(map[string]*attached),
	}
	if m.languages == nil {
		m.languages = NewLanguageRegistry()
	}
	if m.health == nil {
		m.health = health.NewMonitor()
	}
	if m.origin == "" {
		m.origin = uuid.NewString()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if deps.Registry != nil {
		m.metrics = deps.Registry.CoreMetrics()
	}
	m.health.OnChange(func(name string, s health.Status) {
		m.metrics.RecordHealthStatus(name, s.IsHealthy())
	})

	c, err := cache.NewManager(cfg.Cache,
		cache.WithLogger(logger),
		cache.WithMetrics(deps.Registry, "configstore_cache"),
		cache.WithClock(m.now))
	if err != nil {
		return nil, err
	}
	m.cache = c
	return m, nil
}

// Cache returns the cache manager.
func (m *Manager) Cache() *cache.Manager { return m.cache }

// Languages returns the language registry.
func (m *Manager) Languages() *LanguageRegistry { return m.languages }

// Origin returns the id stamped on documents written by this process.
func (m *Manager) Origin() string { return m.origin }

func (m *Manager) kvOptions() []func(*natsclient.KVOptions) {
	timeout := m.cfg.OperationTimeout
	if timeout <= 0 {
		return nil
	}
	return []func(*natsclient.KVOptions){func(o *natsclient.KVOptions) { o.Timeout = timeout }}
}

// Initialize opens the default collection, starts the worker pool and
// attaches every registered collection: its change feed is started and its
// documents are loaded into the cache. A second call before Shutdown is an
// illegal-state error. An unreachable database fails with a connection error
// and leaves nothing running.
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state == stateRunning {
		return errors.IllegalState(errors.ErrAlreadyInitialized, "configstore", "Initialize", "initialize store")
	}

	start := m.now()
	pool := worker.NewTaskPool(m.cfg.Workers, m.cfg.QueueSize,
		worker.WithMetricsRegistry[worker.Task](m.deps.Registry, "configstore_worker"))
	if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.IllegalState(err, "configstore", "Initialize", "start worker pool")
	}

	router := objectstore.NewRouter(m.deps.Provider, m.cfg.Database, m.cfg.DefaultCollection, m.logger, m.kvOptions()...)
	if _, err := router.Open(ctx, m.cfg.DefaultCollection); err != nil {
		_ = pool.Stop(m.shutdownTimeout())
		m.health.UpdateUnhealthy(componentStore, "database unreachable")
		return errors.Connection(err, "configstore", "Initialize", "open default collection")
	}

	tokens := m.deps.Tokens
	if tokens == nil && m.cfg.ChangeFeed.Enabled && m.cfg.ChangeFeed.PersistTokens {
		bucket, err := m.deps.Provider.OpenBucket(ctx, changefeed.TokenBucket(m.cfg.Database))
		if err != nil {
			_ = pool.Stop(m.shutdownTimeout())
			m.health.UpdateUnhealthy(componentStore, "database unreachable")
			return errors.Connection(err, "configstore", "Initialize", "open resume token bucket")
		}
		tokens = changefeed.NewKVTokenStore(natsclient.NewKVStore(bucket, m.logger, m.kvOptions()...), m.cfg.ChangeFeed.Consumer)
	}

	m.mu.Lock()
	m.pool = pool
	m.router = router
	m.objects = objectstore.New(router, pool,
		objectstore.WithClock(m.now),
		objectstore.WithLogger(m.logger),
		objectstore.WithMetrics(m.metrics))
	m.tokens = tokens
	m.state = stateRunning
	colls := make([]Collection, 0, len(m.declared))
	for _, coll := range m.declared {
		colls = append(colls, coll)
	}
	m.mu.Unlock()

	warm := make([]*attached, 0, len(colls))
	for _, coll := range colls {
		a, err := m.attach(ctx, coll)
		if err != nil {
			_ = m.stop(context.Background(), stateNew)
			m.health.UpdateUnhealthy(componentStore, "initialize failed")
			return err
		}
		warm = append(warm, a)
	}

	// A failed warm load leaves the scope cold; reads load it on demand.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ReloadConcurrency)
	for _, a := range warm {
		g.Go(func() error {
			if err := m.reloadCollection(gctx, a); err != nil {
				m.logger.Warn("Warm load failed, collection stays cold", "collection", a.coll.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.health.UpdateHealthy(componentStore, "initialized")
	m.logger.Info("Config store initialized",
		"database", m.cfg.Database,
		"collections", len(warm),
		"changefeed", m.cfg.ChangeFeed.Enabled,
		"duration", m.now().Sub(start))
	return nil
}

func (m *Manager) shutdownTimeout() time.Duration {
	if m.cfg.ShutdownTimeout > 0 {
		return m.cfg.ShutdownTimeout
	}
	return 10 * time.Second
}

// stop moves the store to next, then stops every watcher and drains the
// pool. Operations submitted afterwards fail fast.
func (m *Manager) stop(ctx context.Context, next lifecycle) error {
	m.mu.Lock()
	collections := m.collections
	pool := m.pool
	m.state = next
	m.collections = make(map[string]*attached)
	m.pool = nil
	m.router = nil
	m.objects = nil
	m.tokens = nil
	m.mu.Unlock()

	var g errgroup.Group
	for _, a := range collections {
		if a.watcher == nil {
			continue
		}
		g.Go(func() error {
			if err := a.watcher.Stop(ctx); err != nil {
				m.logger.Warn("Change feed did not stop cleanly", "collection", a.coll.Name, "error", err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	for name := range collections {
		m.health.Remove(componentChangeFeed + name)
	}

	if pool != nil {
		if perr := pool.Stop(m.shutdownTimeout()); perr != nil {
			m.logger.Warn("Worker pool did not drain before timeout", "error", perr)
			if err == nil {
				err = perr
			}
		}
	}
	return err
}

// Shutdown stops every change feed and waits for in-flight reloads, drains
// the worker pool and releases the connection. It is safe to call at any
// time and more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state == stateShutdown {
		return nil
	}

	err := m.stop(ctx, stateShutdown)
	if m.deps.Release != nil {
		if rerr := m.deps.Release(ctx); rerr != nil {
			m.logger.Warn("Failed to release connection", "error", rerr)
			if err == nil {
				err = rerr
			}
		}
	}
	m.health.UpdateUnhealthy(componentStore, "shut down")
	if state == stateRunning {
		m.logger.Info("Config store shut down")
	}
	if err != nil {
		return errors.Wrap(err, "configstore", "Shutdown", "stop store")
	}
	return nil
}

// RegisterCollection declares a collection. On a running store the
// collection is attached right away: its change feed starts and its
// documents are loaded into the cache.
func (m *Manager) RegisterCollection(ctx context.Context, coll Collection) error {
	if err := coll.Validate(); err != nil {
		return err
	}
	m.languages.Add(coll.Name, coll.Languages...)
	if coll.DefaultLanguage != "" {
		m.languages.SetDefault(coll.Name, coll.DefaultLanguage)
	}

	m.mu.Lock()
	m.declared[coll.Name] = coll
	_, exists := m.collections[coll.Name]
	running := m.state == stateRunning
	m.mu.Unlock()
	if !running || exists {
		return nil
	}

	a, err := m.attach(ctx, coll)
	if err != nil {
		return err
	}
	if err := m.reloadCollection(ctx, a); err != nil {
		m.logger.Warn("Warm load failed, collection stays cold", "collection", coll.Name, "error", err)
	}
	return nil
}

// Collections lists the attached collections in order.
func (m *Manager) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// attach opens the collection bucket, starts its change feed and registers
// it. The feed starts before any load so no change is missed.
func (m *Manager) attach(ctx context.Context, coll Collection) (*attached, error) {
	database := coll.Database
	if database == "" {
		database = m.cfg.Database
	}
	bucketName := objectstore.BucketName(database, coll.Name)
	bucket, err := m.deps.Provider.OpenBucket(ctx, bucketName)
	if err != nil {
		return nil, errors.Connection(err, "configstore", "attach", "open bucket "+bucketName)
	}
	kv := natsclient.NewKVStore(bucket, m.logger, m.kvOptions()...)

	a := &attached{
		coll: coll,
		kv:   kv,
		docs: docstore.New(kv, coll.Name,
			docstore.WithOrigin(m.origin),
			docstore.WithClock(m.now),
			docstore.WithLogger(m.logger)),
	}

	m.mu.RLock()
	tokens := m.tokens
	m.mu.RUnlock()

	if m.cfg.ChangeFeed.Enabled {
		opts := []changefeed.Option{
			changefeed.WithRetry(m.cfg.ChangeFeed.Retry()),
			changefeed.WithOnFatal(m.onFatal),
			changefeed.WithLogger(m.logger),
			changefeed.WithMetrics(m.metrics),
		}
		if tokens != nil {
			opts = append(opts, changefeed.WithTokenStore(tokens))
		}
		a.watcher = changefeed.New(coll.Name, kv, &feedHandler{m: m, a: a}, opts...)
		if err := a.watcher.Start(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	existing, ok := m.collections[coll.Name]
	running := m.state == stateRunning
	if running && !ok {
		m.collections[coll.Name] = a
	}
	m.mu.Unlock()

	if !running || ok {
		if a.watcher != nil {
			_ = a.watcher.Stop(ctx)
		}
		if !running {
			return nil, errNotRunning("attach " + coll.Name)
		}
		return existing, nil
	}

	if a.watcher != nil {
		m.health.UpdateHealthy(componentChangeFeed+coll.Name, "watching")
	}
	m.logger.Debug("Collection attached", "collection", coll.Name, "bucket", bucketName)
	return a, nil
}

// collectionFor returns the attached collection, attaching an undeclared one
// on first use.
func (m *Manager) collectionFor(ctx context.Context, name string) (*attached, error) {
	m.mu.RLock()
	state, a := m.state, m.collections[name]
	m.mu.RUnlock()
	if state != stateRunning {
		return nil, errNotRunning("access " + name)
	}
	if a != nil {
		return a, nil
	}

	v, err, _ := m.attachFlight.Do(name, func() (any, error) {
		m.mu.RLock()
		existing := m.collections[name]
		coll, declared := m.declared[name]
		m.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		if !declared {
			coll = Collection{Name: name}
			if err := coll.Validate(); err != nil {
				return nil, err
			}
		}
		return m.attach(ctx, coll)
	})
	if err != nil {
		return nil, err
	}
	return v.(*attached), nil
}

func errNotRunning(action string) error {
	return errors.IllegalState(errors.ErrNotInitialized, "configstore", "Manager", action)
}

func (m *Manager) running() (*worker.Pool[worker.Task], *objectstore.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateRunning {
		return nil, nil, errNotRunning("submit operation")
	}
	return m.pool, m.objects, nil
}

func (m *Manager) onFatal(collection string, err error) {
	m.health.Update(componentChangeFeed+collection, health.FromError(componentChangeFeed+collection, err))
	m.logger.Error("Serving cached data without change feed", "collection", collection, "error", err)
	if m.deps.OnFatal != nil {
		m.deps.OnFatal(collection, err)
	}
}

// GetCacheStats returns the cache statistics.
func (m *Manager) GetCacheStats() cache.Stats {
	return m.cache.Stats()
}

// Health returns the aggregated health of the store.
func (m *Manager) Health() health.Status {
	stats := m.cache.Stats()
	m.mu.RLock()
	attachedCount := len(m.collections)
	m.mu.RUnlock()
	return m.health.AggregateHealth("configstore").
		WithDetail("collections", attachedCount).
		WithDetail("cache_hit_rate", stats.HitRate).
		WithDetail("cache_size", stats.Size)
}

// WatcherState returns the change-feed state of collection.
func (m *Manager) WatcherState(collection string) (changefeed.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.collections[collection]
	if !ok || a.watcher == nil {
		return changefeed.StateStopped, false
	}
	return a.watcher.State(), true
}

func submit[R any](ctx context.Context, m *Manager, op string, fn func(ctx context.Context) (R, bool, error)) *stream.Future[R] {
	pool, _, err := m.running()
	if err != nil {
		return stream.Reject[R](err)
	}
	return worker.Go(ctx, pool, func(ctx context.Context) (R, bool, error) {
		start := time.Now()
		v, ok, err := fn(ctx)
		m.metrics.RecordOperation(op, err, time.Since(start))
		if err != nil {
			m.metrics.RecordError("configstore", errors.KindOf(err).String())
		}
		return v, ok, err
	})
}
