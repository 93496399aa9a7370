package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcherForwardsMatchingFileWrite(t *testing.T) {
	dir := t.TempDir()
	matchSchema := func(path string) bool { return strings.HasSuffix(path, ".schema.yaml") }

	w := New([]string{dir}, matchSchema, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	target := filepath.Join(dir, "snippet.schema.yaml")
	require.NoError(t, os.WriteFile(target, []byte("id: snippet\n"), 0o644))

	select {
	case ev := <-w.Events():
		require.Equal(t, target, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a debounced event for the matching file")
	}
}

func TestWatcherIgnoresNonMatchingFile(t *testing.T) {
	dir := t.TempDir()
	matchSchema := func(path string) bool { return strings.HasSuffix(path, ".schema.yaml") }

	w := New([]string{dir}, matchSchema, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(700 * time.Millisecond):
	}
}

func TestWatcherCollapsesRapidRewritesIntoOneEvent(t *testing.T) {
	dir := t.TempDir()
	matchSchema := func(path string) bool { return strings.HasSuffix(path, ".schema.yaml") }

	w := New([]string{dir}, matchSchema, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	target := filepath.Join(dir, "snippet.schema.yaml")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(target, []byte("id: snippet\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-w.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("expected one collapsed event")
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("expected rapid rewrites to collapse into one event, got a second: %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}
