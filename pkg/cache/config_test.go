package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/configstore/errors"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate(), "zero config is unbounded without expiry")

	for name, cfg := range map[string]Config{
		"negative max":    {MaxEntries: -1},
		"negative ttl":    {TTL: -time.Second},
		"negative buffer": {ReadBufferSize: -1},
	} {
		t.Run(name, func(t *testing.T) {
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := NewManager(Config{MaxEntries: -1})
	assert.Error(t, err)
}

func TestConfig_UnmarshalDurations(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"max_entries":5,"ttl":"90s"}`), &cfg))
	assert.Equal(t, 5, cfg.MaxEntries)
	assert.Equal(t, 90*time.Second, cfg.TTL)

	require.NoError(t, json.Unmarshal([]byte(`{"ttl":1000}`), &cfg))
	assert.Equal(t, time.Microsecond, cfg.TTL)

	assert.Error(t, json.Unmarshal([]byte(`{"ttl":"soon"}`), &cfg))
	assert.Error(t, json.Unmarshal([]byte(`{"ttl":true}`), &cfg))
}
