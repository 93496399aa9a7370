package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c := Load()
	require.Equal(t, "info", c.Log.Level)
	require.Equal(t, "json", c.Log.Format)
	require.Equal(t, time.Hour, c.Cache.DefaultTTL)
	require.Equal(t, int64(64*1024*1024), c.Audit.RotateThresholdBytes)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}, c.Retry.Delays)
	require.Equal(t, 5*time.Second, c.DB.BusyTimeout)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("CONTENTD_LOG_LEVEL", "debug")
	t.Setenv("CONTENTD_CACHE_DEFAULT_TTL", "10m")
	t.Setenv("CONTENTD_AUDIT_ROTATE_BYTES", "1024")
	t.Setenv("CONTENTD_LOG_MAX_BACKUPS", "7")
	t.Setenv("CONTENTD_LOG_COMPRESS", "false")

	c := Load()
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, 10*time.Minute, c.Cache.DefaultTTL)
	require.Equal(t, int64(1024), c.Audit.RotateThresholdBytes)
	require.Equal(t, 7, c.Log.MaxBackups)
	require.False(t, c.Log.Compress)
}

func TestLoadFallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("CONTENTD_CACHE_DEFAULT_TTL", "not-a-duration")
	t.Setenv("CONTENTD_LOG_MAX_BACKUPS", "not-a-number")

	c := Load()
	require.Equal(t, time.Hour, c.Cache.DefaultTTL)
	require.Equal(t, 3, c.Log.MaxBackups)
}
