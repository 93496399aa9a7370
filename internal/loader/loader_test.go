package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"contentd/internal/errs"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeFile(t, schemaDir, "broken.schema.yaml", "id: broken\nname: [unterminated\n")

	_, err := Load(schemaDir, configDir)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.InvalidSchema))
}

func TestLoadRejectsDuplicateGroupID(t *testing.T) {
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeFile(t, schemaDir, "address.group.yaml", "id: address\nfields:\n  - id: street\n    type: text\n")
	writeFile(t, schemaDir, "address2.group.yaml", "id: address\nfields:\n  - id: city\n    type: text\n")

	_, err := Load(schemaDir, configDir)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.InvalidSchema))
	require.Contains(t, err.Error(), "duplicate field group id")
}

func TestLoadRejectsUnknownFieldKind(t *testing.T) {
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeFile(t, schemaDir, "widget.schema.yaml", `
id: widget
name: Widget
fields:
  - id: color
    type: not_a_real_kind
`)

	_, err := Load(schemaDir, configDir)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.InvalidSchema))
	require.Contains(t, err.Error(), "unknown kind or field group")
}

func TestLoadRejectsCrossEntityIDCollision(t *testing.T) {
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeFile(t, schemaDir, "one.schema.yaml", "id: page\nname: Page One\nfields:\n  - id: title\n    type: text\n")
	writeFile(t, schemaDir, "two.schema.yaml", "id: page\nname: Page Two\nfields:\n  - id: title\n    type: text\n")

	_, err := Load(schemaDir, configDir)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Conflict))
	require.Contains(t, err.Error(), "duplicate entity id")
}

func TestLoadResolvesFieldGroupReference(t *testing.T) {
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeFile(t, schemaDir, "address.group.yaml", "id: address\nfields:\n  - id: street\n    type: text\n  - id: city\n    type: text\n")
	writeFile(t, schemaDir, "contact.schema.yaml", `
id: contact
name: Contact
fields:
  - id: home
    type: address
`)

	res, err := Load(schemaDir, configDir)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	require.Equal(t, "contact", res.Entities[0].ID)
	require.Len(t, res.Entities[0].Fields, 1)
	home := res.Entities[0].Fields[0]
	require.Len(t, home.Fields, 2)
}

func TestLoadRejectsFieldGroupCycle(t *testing.T) {
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeFile(t, schemaDir, "a.group.yaml", "id: a\nfields:\n  - id: ref\n    type: b\n")
	writeFile(t, schemaDir, "b.group.yaml", "id: b\nfields:\n  - id: ref\n    type: a\n")

	_, err := Load(schemaDir, configDir)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.InvalidSchema))
	require.Contains(t, err.Error(), "cycle")
}

func TestLoadParsesConfigurationFiles(t *testing.T) {
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeFile(t, configDir, "config.cache.yaml", "default_ttl: 300\nenabled: true\n")

	res, err := Load(schemaDir, configDir)
	require.NoError(t, err)
	require.Len(t, res.Configs, 1)
	require.Equal(t, "cache", res.Configs[0].ID)
	require.Equal(t, true, res.Configs[0].Values["enabled"])
}

func TestLoadMissingDirectoriesReturnEmptyResult(t *testing.T) {
	missingSchema := filepath.Join(t.TempDir(), "does-not-exist")
	missingConfig := filepath.Join(t.TempDir(), "also-missing")

	res, err := Load(missingSchema, missingConfig)
	require.NoError(t, err)
	require.Empty(t, res.Entities)
	require.Empty(t, res.Configs)
}

func TestIsRelevantFileMatchesLoaderPredicates(t *testing.T) {
	require.True(t, IsRelevantFile("/schemas/page.schema.yaml"))
	require.True(t, IsRelevantFile("/config/config.cache.yaml"))
	require.True(t, IsRelevantFile("/schemas/address.group.yaml"))
	require.False(t, IsRelevantFile("/schemas/README.md"))
	require.False(t, IsRelevantFile("/schemas/notes.txt"))
}
