package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// layerFlag collects repeated -config flags in order.
type layerFlag []string

func (l *layerFlag) String() string { return strings.Join(*l, ",") }

func (l *layerFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	WriteDefaults   string
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	var layers layerFlag

	fs.Var(&layers, "config",
		"Configuration file, JSON or YAML; repeat to layer (env: CONFIGSTORE_CONFIG, comma separated)")
	fs.Var(&layers, "c", "Shorthand for -config")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error; overrides log.level")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text; overrides log.format")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("CONFIGSTORE_DEBUG", false),
		"Enable debug logging (env: CONFIGSTORE_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CONFIGSTORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: CONFIGSTORE_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.WriteDefaults, "write-defaults", "",
		"Write the default configuration to this path and exit")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigPaths = layers
	if len(cfg.ConfigPaths) == 0 {
		if env := getEnv("CONFIGSTORE_CONFIG", ""); env != "" {
			cfg.ConfigPaths = strings.Split(env, ",")
		}
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp || cfg.WriteDefaults != "" {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	w := fs.Output()
	_, _ = fmt.Fprintf(w, `%s - cached configuration and localization store

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	printExamples(w)
}

func printExamples(w io.Writer) {
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with a base file and a production overlay
  %[1]s --config=configs/base.yaml --config=configs/production.yaml

  # Run standalone with the in-process store
  CONFIGSTORE_NATS_STORAGE_MODE=memory %[1]s --log-format=text

  # Validate configuration only
  %[1]s --config=configs/base.yaml --validate

  # Start from the defaults
  %[1]s --write-defaults=configstore.yaml

Send SIGHUP to reload the configuration files: new collections are attached
and the log level is applied without a restart.

Version: %[2]s
Build: %[3]s
`, os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
