package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverlapsDetectsAncestorAndEquality(t *testing.T) {
	assert.True(t, overlaps("/data/schemas", "/data/schemas"))
	assert.True(t, overlaps("/data", "/data/logs"))
	assert.True(t, overlaps("/data/logs", "/data"))
	assert.False(t, overlaps("/data/schemas", "/data/logs"))
}

func TestBundleDerivedPaths(t *testing.T) {
	b := Bundle{DataPath: "/var/contentd/data"}
	assert.Equal(t, "/var/contentd/data/content/contentd.db", b.ContentDBPath())
	assert.Equal(t, "/var/contentd/data/json-cache", b.JSONCachePath())
	assert.Equal(t, "/var/contentd/data/user-backend/secure.log", b.AuditLogPath())
	assert.Equal(t, "/var/contentd/data/logs", b.LogsPath())
}

func TestValidateDisjointRejectsOverlap(t *testing.T) {
	b := &Bundle{
		DataPath:          "/var/contentd/data",
		EntitySchemaPath:  "/var/contentd/data/content",
		ConfigurationPath: "/var/contentd/config",
	}
	err := b.validateDisjoint()
	assert.Error(t, err)
}

func TestValidateDisjointAcceptsSeparatePaths(t *testing.T) {
	b := &Bundle{
		DataPath:          "/var/contentd/data",
		EntitySchemaPath:  "/var/contentd/schemas",
		ConfigurationPath: "/var/contentd/config",
	}
	assert.NoError(t, b.validateDisjoint())
}
