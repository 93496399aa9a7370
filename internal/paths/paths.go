// Package paths resolves the immutable bundle of base paths every
// other component is handed by explicit parameter: project-root
// discovery, environment variables plus an optional .env overlay, and
// the disjointness check between watched and written-to directories,
// per spec §4.M/§6.2.
package paths

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"contentd/internal/errs"
)

// Environment selects the secret source, §6.2.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvPrd  Environment = "prd"
)

// Bundle is the immutable set of resolved base paths, owned by the
// process root and handed to every other component by parameter.
type Bundle struct {
	Environment       Environment
	DataPath          string
	EntitySchemaPath  string
	ConfigurationPath string
	StaticPath        string
	SessionSecretKey  []byte
}

// ContentDBPath is the relational store file, §6.3.
func (b Bundle) ContentDBPath() string { return filepath.Join(b.DataPath, "content", "contentd.db") }

// JSONCachePath is the persistent KV store, §6.3. It names a single
// bbolt file (opened by cache.Open), not a directory.
func (b Bundle) JSONCachePath() string { return filepath.Join(b.DataPath, "json-cache") }

// AuditLogPath is the audit log's current file, §6.3/§6.6.
func (b Bundle) AuditLogPath() string {
	return filepath.Join(b.DataPath, "user-backend", "secure.log")
}

// UserBackendPath is the user/session store directory, §6.3.
func (b Bundle) UserBackendPath() string { return filepath.Join(b.DataPath, "user-backend") }

// LogsPath is the process log directory, §6.3 — never inside a watched
// directory.
func (b Bundle) LogsPath() string { return filepath.Join(b.DataPath, "logs") }

// writtenToDirs returns the directories this process writes into,
// used by the disjointness check against watched directories.
func (b Bundle) writtenToDirs() []string {
	return []string{
		filepath.Join(b.DataPath, "content"),
		b.JSONCachePath(),
		b.UserBackendPath(),
		b.LogsPath(),
	}
}

func (b Bundle) watchedDirs() []string {
	return []string{b.EntitySchemaPath, b.ConfigurationPath}
}

// defaults mirrors the table in spec §6.2.
var defaults = map[string]string{
	"ENVIRONMENT":        "dev",
	"DATA_PATH":          "./data",
	"ENTITY_SCHEMA_PATH": "./schemas",
	"CONFIGURATION_PATH": "./config",
	"STATIC_PATH":        "./static",
}

func getenv(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaults[key]
}

// FindProjectRoot walks up from start looking for a go.mod file, the
// canonical project-root marker for this codebase. Returns start
// itself if no marker is found above it.
func FindProjectRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// Resolve loads the path bundle from the environment, optionally
// overlaid by a .env file found via godotenv, and anchors relative
// paths at the discovered project root.
func Resolve() (*Bundle, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cwd, err := os.Getwd()
	if err != nil {
		return nil, errs.New(errs.Configuration, "cannot determine working directory", err)
	}
	root := FindProjectRoot(cwd)

	anchor := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}

	env := Environment(getenv("ENVIRONMENT"))
	b := &Bundle{
		Environment:       env,
		DataPath:          anchor(getenv("DATA_PATH")),
		EntitySchemaPath:  anchor(getenv("ENTITY_SCHEMA_PATH")),
		ConfigurationPath: anchor(getenv("CONFIGURATION_PATH")),
		StaticPath:        anchor(getenv("STATIC_PATH")),
	}

	secret := os.Getenv("SESSION_SECRET_KEY")
	if secret == "" && env == EnvPrd {
		return nil, errs.New(errs.Configuration, "SESSION_SECRET_KEY is required in prd", nil)
	}
	if secret != "" {
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, errs.New(errs.Configuration, "SESSION_SECRET_KEY is not valid base64", err)
		}
		b.SessionSecretKey = decoded
	}

	if err := b.validateDisjoint(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bundle) validateDisjoint() error {
	for _, w := range b.watchedDirs() {
		for _, d := range b.writtenToDirs() {
			if overlaps(w, d) {
				return errs.New(errs.Configuration,
					fmt.Sprintf("watched directory %q overlaps written-to directory %q", w, d), nil)
			}
		}
	}
	return nil
}

// overlaps reports whether a and b are the same path, or one is an
// ancestor of the other.
func overlaps(a, b string) bool {
	a = filepath.Clean(a)
	b = filepath.Clean(b)
	if a == b {
		return true
	}
	rel, err := filepath.Rel(a, b)
	if err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
		return true
	}
	rel, err = filepath.Rel(b, a)
	if err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
		return true
	}
	return false
}
