package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/configstore/adminapi"
	"github.com/c360/configstore/config"
	"github.com/c360/configstore/configstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/health"
	"github.com/c360/configstore/metric"
	"github.com/c360/configstore/natsclient"
)

const componentNATS = "nats"

// daemon owns everything the binary runs: the NATS connection, the store
// and its HTTP surfaces.
type daemon struct {
	cfg      *config.SafeConfig
	logger   *slog.Logger
	level    *slog.LevelVar
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	store   *configstore.Manager
	metrics *metric.Server
	admin   *adminapi.Server
}

func newDaemon(cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) *daemon {
	d := &daemon{
		cfg:      config.NewSafeConfig(cfg),
		logger:   logger,
		level:    level,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
	core := d.registry.CoreMetrics()
	d.monitor.OnChange(func(name string, s health.Status) {
		core.RecordHealthStatus(name, s.IsHealthy())
		if s.IsHealthy() {
			logger.Info("Component healthy", "component", name)
			return
		}
		logger.Warn("Component health changed", "component", name, "status", s.State, "message", s.Message)
	})
	return d
}

// connect returns the bucket provider for the configured storage mode and
// the function that releases it.
func (d *daemon) connect(ctx context.Context, cfg *config.Config) (natsclient.BucketProvider, func(context.Context) error, error) {
	if cfg.NATS.StorageMode == config.StorageModeMemory {
		d.logger.Warn("Using in-process storage, documents do not survive a restart")
		d.monitor.UpdateHealthy(componentNATS, "in-process storage")
		return natsclient.NewMemoryKV(), nil, nil
	}

	core := d.registry.CoreMetrics()
	opts := append(cfg.NATS.ClientOptions(cfg.Node),
		natsclient.WithLogger(d.logger),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			core.RecordNATSStatus(healthy)
			if healthy {
				d.monitor.UpdateHealthy(componentNATS, "connected")
			} else {
				d.monitor.UpdateUnhealthy(componentNATS, "disconnected")
			}
		}),
		natsclient.WithReconnectCallback(core.RecordNATSReconnect),
		natsclient.WithDisconnectCallback(d.onNATSDisconnect),
	)
	client, err := natsclient.NewClient(cfg.NATS.ServerURL(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := connectToNATS(ctx, client, d.logger); err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// onNATSDisconnect counts a dropped connection. A nil error is a clean
// close and is not counted.
func (d *daemon) onNATSDisconnect(err error) {
	if err == nil {
		return
	}
	d.registry.CoreMetrics().RecordError(componentNATS, errors.KindConnection.String())
}

func connectToNATS(ctx context.Context, client *natsclient.Client, logger *slog.Logger) error {
	logger.Info("Connecting to NATS", "url", client.URL())

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	logger.Info("Connected to NATS successfully")
	return nil
}

// start connects storage, attaches every configured collection and brings
// up the HTTP servers.
func (d *daemon) start(ctx context.Context) error {
	cfg := d.cfg.Get()

	provider, release, err := d.connect(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := configstore.New(configstore.Dependencies{
		Provider: provider,
		Release:  release,
		Logger:   d.logger,
		Registry: d.registry,
		Health:   d.monitor,
		Origin:   cfg.Node,
		OnFatal: func(collection string, err error) {
			d.logger.Error("Change feed stopped, cache for collection may go stale",
				"collection", collection, "error", err)
		},
	}, cfg.StoreConfig())
	if err != nil {
		if release != nil {
			_ = release(ctx)
		}
		return fmt.Errorf("create store: %w", err)
	}
	d.store = store

	for _, c := range cfg.Collections {
		if err := store.RegisterCollection(ctx, c); err != nil {
			return fmt.Errorf("register collection %s: %w", c.Name, err)
		}
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	if cfg.Metrics.Enabled {
		d.metrics = metric.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, d.registry)
		if err := d.metrics.Start(); err != nil {
			return err
		}
		d.logger.Info("Metrics server started", "address", d.metrics.Address())
	}

	if cfg.Admin.Enabled {
		d.admin, err = adminapi.NewServer(cfg.Admin.Address, store,
			adminapi.WithLogger(d.logger),
			adminapi.WithMetrics(d.registry),
			adminapi.WithConfig(d.cfg),
			adminapi.WithReloadConcurrency(cfg.Admin.ReloadBatchSize),
			adminapi.WithTimeouts(cfg.Admin.ReadTimeout, cfg.Admin.WriteTimeout),
			adminapi.WithRateLimit(cfg.Admin.RateLimit, cfg.Admin.RateBurst),
		)
		if err != nil {
			return err
		}
		if err := d.admin.Start(); err != nil {
			return err
		}
		d.logger.Info("Admin API started", "address", d.admin.Address())
	}

	d.logger.Info("Store running",
		"database", cfg.Store.Database,
		"collections", store.Collections(),
		"storage_mode", cfg.NATS.StorageMode)
	return nil
}

// reload applies a new configuration. Collections and the log level take
// effect immediately; connection and listener settings need a restart.
func (d *daemon) reload(ctx context.Context, next *config.Config) error {
	prev := d.cfg.Get()
	if err := d.cfg.Update(next); err != nil {
		return err
	}

	d.level.Set(parseLevel(next.Log.Level))

	if next.NATS.ServerURL() != prev.NATS.ServerURL() || next.NATS.StorageMode != prev.NATS.StorageMode ||
		next.Metrics.Address != prev.Metrics.Address || next.Admin.Address != prev.Admin.Address ||
		next.Store.Database != prev.Store.Database {
		d.logger.Warn("Connection and listener changes apply on restart")
	}

	if d.store == nil {
		return nil
	}
	for _, c := range next.Collections {
		if err := d.store.RegisterCollection(ctx, c); err != nil {
			return fmt.Errorf("register collection %s: %w", c.Name, err)
		}
	}
	d.logger.Info("Configuration reloaded", "collections", d.store.Collections(), "log_level", next.Log.Level)
	return nil
}

// stop tears down in reverse order of start. It keeps going past errors
// and returns the first one.
func (d *daemon) stop(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if d.admin != nil {
		keep(d.admin.Stop(ctx))
	}
	if d.store != nil {
		keep(d.store.Shutdown(ctx))
	}
	if d.metrics != nil {
		keep(d.metrics.Stop(ctx))
	}
	return first
}
