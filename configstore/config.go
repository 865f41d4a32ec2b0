package configstore

import (
	"fmt"
	"time"

	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/pkg/cache"
	"github.com/c360/configstore/pkg/retry"
)

// Config holds the store settings.
type Config struct {
	// Database prefixes every bucket name.
	Database string `json:"database" yaml:"database"`
	// DefaultCollection receives typed records without a reachable
	// collection of their own.
	DefaultCollection string `json:"default_collection" yaml:"default_collection"`
	// DefaultLanguage is the message fallback for collections that declare
	// none.
	DefaultLanguage string `json:"default_language" yaml:"default_language"`

	Workers           int           `json:"workers" yaml:"workers"`
	QueueSize         int           `json:"queue_size" yaml:"queue_size"`
	OperationTimeout  time.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	ReloadConcurrency int           `json:"reload_concurrency" yaml:"reload_concurrency"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	Cache      cache.Config     `json:"cache" yaml:"cache"`
	ChangeFeed ChangeFeedConfig `json:"changefeed" yaml:"changefeed"`
}

// ChangeFeedConfig controls the change-feed watchers.
type ChangeFeedConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// PersistTokens stores resume tokens in <database>_changefeed_tokens.
	PersistTokens bool `json:"persist_tokens" yaml:"persist_tokens"`
	// Consumer names this process in the token bucket. Processes sharing a
	// database need distinct names to resume independently.
	Consumer string `json:"consumer" yaml:"consumer"`

	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
}

// Retry returns the reconnection policy.
func (c ChangeFeedConfig) Retry() retry.Config {
	return retry.Config{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		AddJitter:    true,
	}
}

// DefaultConfig returns the default store settings.
func DefaultConfig() Config {
	return Config{
		Database:          "configs",
		DefaultCollection: "objects",
		DefaultLanguage:   "en",
		Workers:           8,
		QueueSize:         1024,
		OperationTimeout:  10 * time.Second,
		ReloadConcurrency: 4,
		ShutdownTimeout:   10 * time.Second,
		Cache:             cache.DefaultConfig(),
		ChangeFeed: ChangeFeedConfig{
			Enabled:       true,
			PersistTokens: true,
			MaxAttempts:   5,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			Multiplier:    2,
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"configstore", "Validate", "validate config")
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.Database == "" {
		return invalid("database is required")
	}
	if natsclient.SanitizeBucketName(c.Database) != c.Database {
		return invalid("database %q may only contain letters, digits, '_' and '-'", c.Database)
	}
	if c.DefaultCollection == "" {
		return invalid("default_collection is required")
	}
	if c.DefaultLanguage == "" {
		return invalid("default_language is required")
	}
	if c.Workers < 1 {
		return invalid("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return invalid("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.OperationTimeout < 0 || c.ShutdownTimeout < 0 {
		return invalid("timeouts must not be negative")
	}
	if c.ReloadConcurrency < 1 {
		return invalid("reload_concurrency must be at least 1, got %d", c.ReloadConcurrency)
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.ChangeFeed.Enabled {
		if c.ChangeFeed.MaxAttempts < 0 {
			return invalid("changefeed.max_attempts must not be negative")
		}
		if err := c.ChangeFeed.Retry().Validate(); err != nil {
			return errors.WrapInvalid(err, "configstore", "Validate", "validate changefeed retry")
		}
	}
	return nil
}
