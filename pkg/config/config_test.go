package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 365, cfg.Audit.RetentionDays)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("WEBVUE_CACHE_BACKEND", "redis")
	t.Setenv("WEBVUE_CACHE_TTL", "30s")
	t.Setenv("WEBVUE_AUDIT_RETENTION_DAYS", "90")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("bad cache backend", func(t *testing.T) {
		t.Setenv("WEBVUE_CACHE_BACKEND", "memcached")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cache backend")
	})

	t.Run("invalid int falls back to default", func(t *testing.T) {
		t.Setenv("WEBVUE_AUDIT_RETENTION_DAYS", "soon")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, 365, cfg.Audit.RetentionDays)
	})
}
