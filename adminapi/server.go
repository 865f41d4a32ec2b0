package adminapi

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/c360/configstore/changefeed"
	"github.com/c360/configstore/config"
	"github.com/c360/configstore/configstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/health"
	"github.com/c360/configstore/metric"
	"github.com/c360/configstore/pkg/cache"
	"github.com/c360/configstore/pkg/stream"
)

// Store is the part of configstore.Manager the admin surface drives.
type Store interface {
	Cache() *cache.Manager
	GetCacheStats() cache.Stats
	Health() health.Status
	Collections() []string
	WatcherState(collection string) (changefeed.State, bool)
	InvalidateAllAsync(ctx context.Context) *stream.Future[struct{}]
	ReloadCollectionAsync(ctx context.Context, collection string) *stream.Future[struct{}]
	ReloadCollectionsBatchAsync(ctx context.Context, names []string, concurrency int) *stream.Future[*configstore.BatchReport]
	LanguagesOf(ctx context.Context, collection string) *stream.Future[[]string]
	ConfigSnapshot(ctx context.Context, collection string) *stream.Future[map[string]any]
	GetMessageAsync(ctx context.Context, collection, lang, key string) *stream.Future[string]
}

var _ Store = (*configstore.Manager)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves the registry on /metrics and times every request.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithConfig serves the redacted daemon configuration on /config.
func WithConfig(cfg *config.SafeConfig) Option {
	return func(s *Server) { s.config = cfg }
}

// WithReloadConcurrency sets the batch reload concurrency used when a
// request does not name one.
func WithReloadConcurrency(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.reloadConcurrency = n
		}
	}
}

// WithTimeouts sets the HTTP read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// WithRateLimit caps mutating requests (invalidate, reload, stats reset)
// at perSecond with the given burst. A non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Server is the cache administration HTTP surface.
type Server struct {
	addr              string
	store             Store
	logger            *slog.Logger
	registry          *metric.MetricsRegistry
	config            *config.SafeConfig
	reloadConcurrency int
	readTimeout       time.Duration
	writeTimeout      time.Duration
	limiter           *rate.Limiter

	requests *prometheus.HistogramVec

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates an admin server for store listening on addr.
func NewServer(addr string, store Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "adminapi", "NewServer", "store is required")
	}
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{
		addr:              addr,
		store:             store,
		logger:            slog.Default(),
		reloadConcurrency: 4,
		readTimeout:       10 * time.Second,
		writeTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "adminapi")

	if s.registry != nil {
		s.requests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "configstore",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin API request latency by route and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"})
		if err := s.registry.RegisterHistogramVec("adminapi", "request_duration_seconds", s.requests); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet).Name("health")
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet).Name("stats")
	r.HandleFunc("/stats/reset", s.limited(s.handleResetStats)).Methods(http.MethodPost).Name("stats_reset")
	r.HandleFunc("/invalidate", s.limited(s.handleInvalidateAll)).Methods(http.MethodPost).Name("invalidate_all")
	r.HandleFunc("/reload", s.limited(s.handleReloadBatch)).Methods(http.MethodPost).Name("reload_batch")

	r.HandleFunc("/collections", s.handleCollections).Methods(http.MethodGet).Name("collections")
	r.HandleFunc("/collections/{name}", s.handleCollection).Methods(http.MethodGet).Name("collection")
	r.HandleFunc("/collections/{name}/invalidate", s.limited(s.handleInvalidate)).Methods(http.MethodPost).Name("invalidate")
	r.HandleFunc("/collections/{name}/reload", s.limited(s.handleReload)).Methods(http.MethodPost).Name("reload")
	r.HandleFunc("/collections/{name}/config", s.handleConfigSnapshot).Methods(http.MethodGet).Name("config_snapshot")
	r.HandleFunc("/collections/{name}/messages/{lang}/{key}", s.handleMessage).Methods(http.MethodGet).Name("message")

	if s.config != nil {
		r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet).Name("config")
	}
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(
			s.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		)).Methods(http.MethodGet).Name("metrics")
	}
	return r
}

// observe times requests by route name.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil && cur.GetName() != "" {
			route = cur.GetName()
		}
		if s.requests != nil {
			s.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Observe(time.Since(start).Seconds())
		}
		s.logger.Debug("Admin request", "route", route, "method", r.Method,
			"code", rec.code, "duration_ms", time.Since(start).Milliseconds())
	})
}

// limited rejects a request with 429 when the mutation budget is spent.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "too many administrative requests",
				Kind:  "rate_limited",
			})
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"adminapi", "Start", "cannot start server that is already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "adminapi", "Start", fmt.Sprintf("failed to listen on %s", s.addr))
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server error", "error", err)
		}
	}()
	s.logger.Info("Admin API listening", "address", ln.Addr().String())
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "adminapi", "Stop", "failed to stop HTTP server")
	}
	return nil
}

// Address returns the base URL, resolving an ephemeral port once started.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.addr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return "http://" + addr
}
