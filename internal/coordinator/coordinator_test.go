package coordinator

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"contentd/internal/diff"
	"contentd/internal/executor"
	"contentd/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSchema(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const snippetV1 = `
id: snippet
name: Snippet
versioned: true
cacheable: true
fields:
  - id: title
    type: text
    required: true
`

const snippetV2AddsField = `
id: snippet
name: Snippet
versioned: true
cacheable: true
fields:
  - id: title
    type: text
    required: true
  - id: subtitle
    type: text
`

func setup(t *testing.T) (*Coordinator, string, *sql.DB) {
	t.Helper()
	schemaDir := t.TempDir()
	configDir := t.TempDir()
	writeSchema(t, schemaDir, "snippet.schema.yaml", snippetV1)

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := registry.New()
	c := New(schemaDir, configDir, db, reg, executor.Hooks{}, discardLogger())
	require.NoError(t, c.Bootstrap(context.Background()))
	return c, schemaDir, db
}

func TestBootstrapCreatesTableForEntity(t *testing.T) {
	_, _, db := setup(t)
	_, err := db.Exec(`SELECT id, title FROM content_snippet LIMIT 1`)
	require.NoError(t, err)
}

func TestReloadAddingOptionalFieldIsSafeAndAddsColumn(t *testing.T) {
	c, schemaDir, db := setup(t)
	writeSchema(t, schemaDir, "snippet.schema.yaml", snippetV2AddsField)

	report := c.Reload(context.Background(), filepath.Join(schemaDir, "snippet.schema.yaml"), ReloadOptions{})
	require.NoError(t, report.Err)
	require.Equal(t, diff.Safe, report.Classification)

	_, err := db.Exec(`SELECT subtitle FROM content_snippet LIMIT 1`)
	require.NoError(t, err)
}

func TestReloadRemovingEntityIsBreakingAndRejectedWithoutFlag(t *testing.T) {
	c, schemaDir, _ := setup(t)
	require.NoError(t, os.Remove(filepath.Join(schemaDir, "snippet.schema.yaml")))

	report := c.Reload(context.Background(), filepath.Join(schemaDir, "snippet.schema.yaml"), ReloadOptions{})
	require.Error(t, report.Err)
}

func TestReloadRemovingEntityAppliesWithAcceptBreaking(t *testing.T) {
	c, schemaDir, db := setup(t)
	require.NoError(t, os.Remove(filepath.Join(schemaDir, "snippet.schema.yaml")))

	report := c.Reload(context.Background(), filepath.Join(schemaDir, "snippet.schema.yaml"), ReloadOptions{AcceptBreaking: true})
	require.NoError(t, report.Err)
	require.True(t, report.AcceptedBreaking)

	_, err := db.Exec(`SELECT 1 FROM content_snippet LIMIT 1`)
	require.Error(t, err)
}
