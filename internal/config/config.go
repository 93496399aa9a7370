// Package config loads ambient process-level settings from the
// environment: logging, audit rotation, cache TTL and reload retry
// tuning. This is distinct from internal/loader's Configuration Object,
// which is schema-driven content served through the entity API; the
// settings here govern the process itself and are never reloaded at
// runtime.
//
// Loaded the way ipiton-alert-history-service/internal/config reads
// Config from the environment: a typed struct with explicit defaults,
// no config framework. That repo layers Viper on top for file+env
// binding; contentd's ambient surface is a handful of scalars, so the
// extra binding machinery would outweigh its value here (see
// DESIGN.md).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process settings not covered by paths.Bundle.
type Config struct {
	Log   LogConfig
	Cache CacheConfig
	Audit AuditConfig
	Retry RetryConfig
	DB    DBConfig
}

// LogConfig mirrors the fields pkg/logger.Config expects.
type LogConfig struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// CacheConfig holds the cache TTL read from the environment. No
// component reads DefaultTTL; rows default to
// entities.DefaultCacheTTLSeconds.
type CacheConfig struct {
	DefaultTTL time.Duration
}

// AuditConfig tunes the hash-chained audit log.
type AuditConfig struct {
	RotateThresholdBytes int64
}

// RetryConfig holds retry delays read from the environment. The
// coordinator does not read it; its retry-on-retryable-storage-error
// policy (§7) uses the fixed delays set in coordinator.New.
type RetryConfig struct {
	Delays []time.Duration
}

// DBConfig tunes the sqlite connection.
type DBConfig struct {
	BusyTimeout time.Duration
}

// Load reads Config from the environment, applying defaults for
// anything unset. It never errors: an unparsable value silently falls
// back to its default.
func Load() *Config {
	return &Config{
		Log: LogConfig{
			Level:      getenv("CONTENTD_LOG_LEVEL", "info"),
			Format:     getenv("CONTENTD_LOG_FORMAT", "json"),
			Output:     getenv("CONTENTD_LOG_OUTPUT", "stdout"),
			Filename:   getenv("CONTENTD_LOG_FILENAME", ""),
			MaxSizeMB:  getenvInt("CONTENTD_LOG_MAX_SIZE_MB", 100),
			MaxBackups: getenvInt("CONTENTD_LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getenvInt("CONTENTD_LOG_MAX_AGE_DAYS", 28),
			Compress:   getenvBool("CONTENTD_LOG_COMPRESS", true),
		},
		Cache: CacheConfig{
			DefaultTTL: getenvDuration("CONTENTD_CACHE_DEFAULT_TTL", time.Hour),
		},
		Audit: AuditConfig{
			RotateThresholdBytes: getenvInt64("CONTENTD_AUDIT_ROTATE_BYTES", 64*1024*1024),
		},
		Retry: RetryConfig{
			Delays: []time.Duration{
				getenvDuration("CONTENTD_RETRY_DELAY_1", 100*time.Millisecond),
				getenvDuration("CONTENTD_RETRY_DELAY_2", 500*time.Millisecond),
			},
		},
		DB: DBConfig{
			BusyTimeout: getenvDuration("CONTENTD_DB_BUSY_TIMEOUT", 5*time.Second),
		},
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
