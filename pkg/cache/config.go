package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/configstore/errors"
)

// Config controls the capacity and expiry policy of the cache.
type Config struct {
	// MaxEntries bounds the number of cached scopes. Zero means unbounded.
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	// TTL expires a scope this long after it was written. Zero disables expiry.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// ReadBufferSize is the capacity of the buffer that records read recency.
	ReadBufferSize int `json:"read_buffer_size" yaml:"read_buffer_size"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     1000,
		TTL:            30 * time.Minute,
		ReadBufferSize: 256,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxEntries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_entries must not be negative, got %d", c.MaxEntries))
	}
	if c.TTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("ttl must not be negative, got %v", c.TTL))
	}
	if c.ReadBufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("read_buffer_size must not be negative, got %d", c.ReadBufferSize))
	}
	return nil
}

// UnmarshalJSON accepts duration strings ("5m") as well as integer nanoseconds for ttl.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		TTL json.RawMessage `json:"ttl,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.TTL) > 0 {
		ttl, err := parseDurationField(aux.TTL, "ttl")
		if err != nil {
			return err
		}
		c.TTL = ttl
	}

	return nil
}

func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '1h') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
