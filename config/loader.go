package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/configstore/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "CONFIGSTORE"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of environment overrides
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = strings.TrimSuffix(prefix, "_")
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one layer into a generic map. JSON and YAML are told apart
// by extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidData, err)
	}
	if raw == nil {
		// An empty YAML document decodes to nil.
		raw = map[string]any{}
	}
	if err := validateDepth(raw, 0); err != nil {
		return nil, err
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode defaults")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode defaults")
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// isDurationKey reports whether a key holds a duration
func isDurationKey(key string) bool {
	return key == "ttl" || key == "timeout" ||
		strings.HasSuffix(key, "_timeout") ||
		strings.HasSuffix(key, "_wait") ||
		strings.HasSuffix(key, "_delay")
}

// parseDurations converts duration strings to nanoseconds so the JSON
// decoder can fill time.Duration fields. Nested maps and lists are walked.
func parseDurations(data map[string]any) error {
	for k, v := range data {
		switch val := v.(type) {
		case string:
			if !isDurationKey(k) {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, k, err)
			}
			data[k] = d.Nanoseconds()
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case []any:
			for _, item := range val {
				if nested, ok := item.(map[string]any); ok {
					if err := parseDurations(nested); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "validate environment")
	}
	return val, true, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"NODE":              &cfg.Node,
		"NATS_STORAGE_MODE": &cfg.NATS.StorageMode,
		"NATS_USERNAME":     &cfg.NATS.Username,
		"NATS_PASSWORD":     &cfg.NATS.Password,
		"NATS_TOKEN":        &cfg.NATS.Token,
		"DATABASE":          &cfg.Store.Database,
		"DEFAULT_LANGUAGE":  &cfg.Store.DefaultLanguage,
		"CONSUMER":          &cfg.Store.ChangeFeed.Consumer,
		"METRICS_ADDRESS":   &cfg.Metrics.Address,
		"ADMIN_ADDRESS":     &cfg.Admin.Address,
		"LOG_LEVEL":         &cfg.Log.Level,
		"LOG_FORMAT":        &cfg.Log.Format,
	}
	for name, dst := range strs {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	val, ok, err := l.env("NATS_URLS")
	if err != nil {
		return err
	}
	if ok {
		urls := strings.Split(val, ",")
		for i := range urls {
			urls[i] = strings.TrimSpace(urls[i])
		}
		cfg.NATS.URLs = urls
	}

	ints := map[string]*int{
		"WORKERS":            &cfg.Store.Workers,
		"RELOAD_CONCURRENCY": &cfg.Store.ReloadConcurrency,
		"CACHE_MAX_ENTRIES":  &cfg.Store.Cache.MaxEntries,
	}
	for name, dst := range ints {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, name, val),
				"Loader", "applyEnvOverrides", "parse integer")
		}
		*dst = n
	}

	bools := map[string]*bool{
		"CHANGEFEED_ENABLED": &cfg.Store.ChangeFeed.Enabled,
		"METRICS_ENABLED":    &cfg.Metrics.Enabled,
		"ADMIN_ENABLED":      &cfg.Admin.Enabled,
	}
	for name, dst := range bools {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, name, val),
				"Loader", "applyEnvOverrides", "parse boolean")
		}
		*dst = b
	}
	return nil
}
