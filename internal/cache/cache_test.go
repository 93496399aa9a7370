package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetThenGetHit(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"title":"hello"}`)

	require.NoError(t, c.Set(ctx, Key("snippet", "abc"), payload, time.Hour, "hash1"))

	got, ok, err := c.Get(ctx, Key("snippet", "abc"), "hash1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, string(payload), string(got))
}

func TestGetMissesWhenAbsent(t *testing.T) {
	c := openTestCache(t)
	_, ok, err := c.Get(context.Background(), Key("snippet", "nope"), "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetSelfHealsOnHashMismatch(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	key := Key("snippet", "abc")
	require.NoError(t, c.Set(ctx, key, json.RawMessage(`{}`), time.Hour, "old-hash"))

	_, ok, err := c.Get(ctx, key, "new-hash")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Get(ctx, key, "old-hash")
	require.NoError(t, err)
	require.False(t, ok, "stale entry should have been deleted by the mismatched read")
}

func TestGetExpiresByTTL(t *testing.T) {
	c := openTestCache(t)
	frozen := time.Now()
	c.now = func() time.Time { return frozen }
	ctx := context.Background()
	key := Key("snippet", "abc")

	require.NoError(t, c.Set(ctx, key, json.RawMessage(`{}`), time.Second, "h"))

	c.now = func() time.Time { return frozen.Add(2 * time.Second) }
	_, ok, err := c.Get(ctx, key, "h")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeletePrefixRemovesOnlyMatching(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, Key("snippet", "1"), json.RawMessage(`{}`), time.Hour, "h"))
	require.NoError(t, c.Set(ctx, Key("snippet", "2"), json.RawMessage(`{}`), time.Hour, "h"))
	require.NoError(t, c.Set(ctx, Key("page", "1"), json.RawMessage(`{}`), time.Hour, "h"))

	require.NoError(t, c.DeletePrefix(ctx, "snippet:"))

	_, ok, _ := c.Get(ctx, Key("snippet", "1"), "h")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, Key("page", "1"), "h")
	require.True(t, ok)
}

func TestStatsCountsEntries(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, Key("snippet", "1"), json.RawMessage(`{"a":1}`), time.Hour, "h"))
	require.NoError(t, c.Set(ctx, Key("snippet", "2"), json.RawMessage(`{"a":2}`), time.Hour, "h"))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Entries)
	require.Greater(t, stats.Bytes, int64(0))
}

func TestClearRemovesEverything(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, Key("snippet", "1"), json.RawMessage(`{}`), time.Hour, "h"))

	require.NoError(t, c.Clear(ctx))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Entries)
}
