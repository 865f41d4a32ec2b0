// Package main runs the configstore daemon: a cached configuration and
// localization store on NATS JetStream KV with an admin HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/configstore/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "configstore"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cliCfg, err := parseFlags(flag.NewFlagSet(appName, flag.ContinueOnError), args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	switch {
	case cliCfg.ShowVersion:
		_, _ = fmt.Fprintf(out, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	case cliCfg.ShowHelp:
		fs := flag.NewFlagSet(appName, flag.ContinueOnError)
		fs.SetOutput(out)
		_, _ = parseFlags(fs, nil)
		printDetailedHelp(fs)
		return nil
	case cliCfg.WriteDefaults != "":
		if err := config.Defaults().SaveToFile(cliCfg.WriteDefaults); err != nil {
			return fmt.Errorf("write defaults: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Default configuration written to %s\n", cliCfg.WriteDefaults)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger, level := setupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_paths", cliCfg.ConfigPaths)
		return nil
	}

	logger.Info("Starting configstore",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths)

	return runWithSignalHandling(context.Background(), cliCfg, newDaemon(cfg, logger, level))
}

// loadConfig layers the configured files over the defaults, applies the
// environment and then the command-line overrides.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range cliCfg.ConfigPaths {
		loader.AddLayer(path)
	}
	loader.EnableValidation(false)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runWithSignalHandling starts the daemon and blocks until SIGINT or
// SIGTERM. SIGHUP reloads the configuration files.
func runWithSignalHandling(ctx context.Context, cliCfg *CLIConfig, d *daemon) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	startErr := d.start(ctx)
	if startErr == nil {
		d.logger.Info("configstore is running. Press Ctrl+C to stop.")
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-hup:
				next, err := loadConfig(cliCfg)
				if err == nil {
					err = d.reload(ctx, next)
				}
				if err != nil {
					d.logger.Error("Configuration reload rejected", "error", err)
				}
			}
		}
		d.logger.Info("Received shutdown signal, starting graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()

	if err := d.stop(shutdownCtx); err != nil {
		d.logger.Error("Shutdown incomplete", "error", err)
		if startErr == nil {
			return err
		}
	}
	if startErr != nil {
		return startErr
	}

	d.logger.Info("configstore shutdown complete")
	return nil
}
