package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"gopkg.in/yaml.v3"

	"github.com/c360/configstore/configstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
)

// Storage mode constants
const (
	StorageModeMemory = "memory" // In-process KV, nothing survives a restart
	StorageModeKV     = "kv"     // NATS JetStream key/value buckets
)

const redacted = "********"

// Config represents the complete daemon configuration
type Config struct {
	// Node names this process. It becomes the origin stamped on written
	// documents and the default change-feed consumer.
	Node        string                   `json:"node" yaml:"node"`
	NATS        NATSConfig               `json:"nats" yaml:"nats"`
	Store       configstore.Config       `json:"store" yaml:"store"`
	Collections []configstore.Collection `json:"collections" yaml:"collections"`
	Metrics     MetricsConfig            `json:"metrics" yaml:"metrics"`
	Admin       AdminConfig              `json:"admin" yaml:"admin"`
	Log         LogConfig                `json:"log" yaml:"log"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Defaults()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Defaults()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted returns a copy with credentials masked
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = redacted
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = redacted
	}
	return clone
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	// StorageMode selects the KV backend: "kv" or "memory".
	StorageMode   string        `json:"storage_mode" yaml:"storage_mode"`
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	PingInterval  time.Duration `json:"ping_interval" yaml:"ping_interval"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	DrainTimeout  time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls" yaml:"tls"`
	Buckets       BucketConfig  `json:"buckets" yaml:"buckets"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// BucketConfig shapes the KV buckets created on first use
type BucketConfig struct {
	History  int    `json:"history" yaml:"history"`   // Revisions kept per key
	Storage  string `json:"storage" yaml:"storage"`   // "file" or "memory"
	Replicas int    `json:"replicas" yaml:"replicas"` // Replication factor
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

// AdminConfig controls the cache administration endpoint
type AdminConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Address         string        `json:"address" yaml:"address"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ReloadBatchSize int           `json:"reload_batch_size" yaml:"reload_batch_size"`

	// RateLimit caps mutating admin requests per second; zero disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Defaults returns the configuration used beneath every loaded layer
func Defaults() *Config {
	return &Config{
		Node: "configstore",
		NATS: NATSConfig{
			StorageMode:   StorageModeKV,
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			PingInterval:  20 * time.Second,
			Timeout:       5 * time.Second,
			DrainTimeout:  30 * time.Second,
			Buckets: BucketConfig{
				History:  5,
				Storage:  "file",
				Replicas: 1,
			},
		},
		Store: configstore.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Admin: AdminConfig{
			Enabled:         true,
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ReloadBatchSize: 4,
			RateLimit:       5,
			RateBurst:       10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "validate config")
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Node == "" {
		return invalid("node is required")
	}
	if err := c.NATS.validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Collections))
	for _, coll := range c.Collections {
		if err := coll.Validate(); err != nil {
			return err
		}
		if _, dup := seen[coll.Name]; dup {
			return invalid("collection %q declared twice", coll.Name)
		}
		seen[coll.Name] = struct{}{}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return invalid("metrics.address is required when metrics are enabled")
	}
	if c.Admin.Enabled {
		if c.Admin.Address == "" {
			return invalid("admin.address is required when the admin API is enabled")
		}
		if c.Admin.ReloadBatchSize < 1 {
			return invalid("admin.reload_batch_size must be at least 1, got %d", c.Admin.ReloadBatchSize)
		}
		if c.Admin.RateLimit < 0 || c.Admin.RateBurst < 0 {
			return invalid("admin rate limit and burst must not be negative")
		}
	}
	if c.Metrics.Enabled && c.Admin.Enabled && c.Metrics.Address == c.Admin.Address &&
		!strings.HasSuffix(c.Admin.Address, ":0") {
		return invalid("metrics and admin cannot share address %s", c.Admin.Address)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.Log.Format)) {
		return invalid("log.format %q is not one of json, text", c.Log.Format)
	}
	return nil
}

func (n NATSConfig) validate() error {
	switch n.StorageMode {
	case StorageModeMemory:
		return nil
	case StorageModeKV:
	default:
		return invalid("nats.storage_mode %q is not one of memory, kv", n.StorageMode)
	}

	if len(n.URLs) == 0 {
		return invalid("nats.urls is required in kv mode")
	}
	for _, raw := range n.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return invalid("nats url %q is malformed", raw)
		}
		if !slices.Contains([]string{"nats", "tls", "ws", "wss"}, u.Scheme) {
			return invalid("nats url %q has unsupported scheme %q", raw, u.Scheme)
		}
	}
	if n.Token != "" && (n.Username != "" || n.Password != "") {
		return invalid("nats token and username/password are mutually exclusive")
	}
	if n.TLS.Enabled && (n.TLS.CertFile == "") != (n.TLS.KeyFile == "") {
		return invalid("nats.tls cert_file and key_file must be set together")
	}
	if n.ReconnectWait < 0 || n.PingInterval < 0 || n.Timeout < 0 || n.DrainTimeout < 0 {
		return invalid("nats timeouts must not be negative")
	}
	if n.Buckets.History < 1 || n.Buckets.History > jetstream.KeyValueMaxHistory {
		return invalid("nats.buckets.history must be between 1 and %d, got %d",
			jetstream.KeyValueMaxHistory, n.Buckets.History)
	}
	if _, err := n.Buckets.storageType(); err != nil {
		return err
	}
	if n.Buckets.Replicas < 1 || n.Buckets.Replicas > 5 {
		return invalid("nats.buckets.replicas must be between 1 and 5, got %d", n.Buckets.Replicas)
	}
	return nil
}

func (b BucketConfig) storageType() (jetstream.StorageType, error) {
	switch strings.ToLower(b.Storage) {
	case "", "file":
		return jetstream.FileStorage, nil
	case "memory":
		return jetstream.MemoryStorage, nil
	default:
		return 0, invalid("nats.buckets.storage %q is not one of file, memory", b.Storage)
	}
}

// ServerURL joins the configured URLs the way nats.Connect expects them
func (n NATSConfig) ServerURL() string {
	return strings.Join(n.URLs, ",")
}

// ClientOptions translates the settings into natsclient options
func (n NATSConfig) ClientOptions(name string) []natsclient.ClientOption {
	storage, _ := n.Buckets.storageType()
	opts := []natsclient.ClientOption{
		natsclient.WithName(name),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithBucketDefaults(uint8(n.Buckets.History), storage, n.Buckets.Replicas),
	}
	if n.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(n.ReconnectWait))
	}
	if n.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(n.PingInterval))
	}
	if n.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(n.Timeout))
	}
	if n.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(n.DrainTimeout))
	}
	switch {
	case n.Token != "":
		opts = append(opts, natsclient.WithToken(n.Token))
	case n.Username != "":
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}
	return opts
}

// StoreConfig returns the store settings with the node name filled in as
// the change-feed consumer when none is set.
func (c *Config) StoreConfig() configstore.Config {
	sc := c.Store
	if sc.ChangeFeed.Consumer == "" {
		sc.ChangeFeed.Consumer = c.Node
	}
	return sc
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode config")
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation with credentials masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
