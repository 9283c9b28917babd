package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"JWT_SECRET": "s"}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, int64(10<<20), cfg.UploadMaxSize)
	assert.Equal(t, "10 MiB", cfg.UploadMaxSizeHuman())
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.False(t, cfg.PinRequiresOwner)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"JWT_SECRET":         "s",
		"LISTEN_ADDR":        ":9000",
		"WORKER_POOL_SIZE":   "32",
		"READ_TIMEOUT":       "3s",
		"UPLOAD_MAX_SIZE":    "2MiB",
		"PIN_REQUIRES_OWNER": "true",
		"HISTORY_LIMIT":      "10",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 32, cfg.WorkerPoolSize)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, int64(2<<20), cfg.UploadMaxSize)
	assert.True(t, cfg.PinRequiresOwner)
	assert.Equal(t, 10, cfg.HistoryLimit)
}

func TestFromEnvRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"WORKER_POOL_SIZE":   "-1",
		"READ_TIMEOUT":       "soon",
		"UPLOAD_MAX_SIZE":    "lots",
		"PIN_REQUIRES_OWNER": "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := FromEnv(env(map[string]string{"JWT_SECRET": "s", key: val}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestFromEnvRequiresSecret(t *testing.T) {
	_, err := FromEnv(env(nil))
	assert.Error(t, err)
}
