package versiontrack

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tr := New(db)
	require.NoError(t, tr.EnsureSchema(context.Background()))
	return tr
}

func TestNextVersionStartsAtOneAndIncrements(t *testing.T) {
	tr := openTracker(t)
	ctx := context.Background()

	v, err := tr.NextVersion(ctx, "snippet.schema.yaml")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	require.NoError(t, tr.Record(ctx, Record{
		FilePath: "snippet.schema.yaml", Version: 1, FileHash: "abc",
		Timestamp: time.Now(), Status: StatusApplied,
	}))

	v, err = tr.NextVersion(ctx, "snippet.schema.yaml")
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestRecordRejectsDuplicateVersion(t *testing.T) {
	tr := openTracker(t)
	ctx := context.Background()
	rec := Record{FilePath: "a.schema.yaml", Version: 1, FileHash: "x", Timestamp: time.Now(), Status: StatusApplied}
	require.NoError(t, tr.Record(ctx, rec))
	err := tr.Record(ctx, rec)
	require.Error(t, err)
}

func TestHistoryOrderedByVersion(t *testing.T) {
	tr := openTracker(t)
	ctx := context.Background()
	for v := 1; v <= 3; v++ {
		require.NoError(t, tr.Record(ctx, Record{
			FilePath: "a.schema.yaml", Version: v, FileHash: "x", Timestamp: time.Now(), Status: StatusApplied,
		}))
	}
	hist, err := tr.History(ctx, "a.schema.yaml")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, 1, hist[0].Version)
	require.Equal(t, 3, hist[2].Version)
}

func TestMarkRolledBack(t *testing.T) {
	tr := openTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Record(ctx, Record{
		FilePath: "a.schema.yaml", Version: 1, FileHash: "x", Timestamp: time.Now(), Status: StatusApplied,
	}))
	require.NoError(t, tr.MarkRolledBack(ctx, "a.schema.yaml", 1, nil))
	hist, err := tr.History(ctx, "a.schema.yaml")
	require.NoError(t, err)
	require.Equal(t, StatusRolledBack, hist[0].Status)
}
