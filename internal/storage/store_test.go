package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"contentd/internal/actions"
	"contentd/internal/entities"
	"contentd/internal/executor"
	"contentd/internal/fields"
	"contentd/internal/idgen"
)

func snippetEntity(versioned bool) *entities.Entity {
	return &entities.Entity{
		ID:        "snippet",
		Name:      "Snippet",
		Versioned: versioned,
		Cacheable: true,
		Fields: []*fields.Field{
			{ID: "title", Kind: fields.KindText, Required: true, Cardinality: fields.CardinalitySingle},
			{ID: "tags", Kind: fields.KindText, Cardinality: fields.CardinalityUnbounded},
		},
	}
}

func setupDB(t *testing.T, e *entities.Entity) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	acts, err := actions.ForNewEntity(e)
	require.NoError(t, err)

	exec := executor.New(db, executor.Hooks{}, slog.Default())
	_, err = exec.Execute(context.Background(), acts, false)
	require.NoError(t, err)
	return db
}

func TestCreateAndRead(t *testing.T) {
	e := snippetEntity(true)
	db := setupDB(t, e)
	s := New(db, idgen.NewGenerator())

	id, err := s.Create(context.Background(), e, map[string]any{"title": "hello"}, map[string][]any{"tags": {"a", "b"}}, "actor1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Read(context.Background(), e, id)
	require.NoError(t, err)
	require.Equal(t, "hello", rec.Fields["title"])
	require.Equal(t, 1, rec.RID)
	require.Equal(t, []any{"a", "b"}, rec.Multi["tags"])
}

func TestUpdateChangesContentBumpsRIDAndArchives(t *testing.T) {
	e := snippetEntity(true)
	db := setupDB(t, e)
	s := New(db, idgen.NewGenerator())

	id, err := s.Create(context.Background(), e, map[string]any{"title": "v1"}, nil, "actor1")
	require.NoError(t, err)

	err = s.Update(context.Background(), e, id, map[string]any{"title": "v2"}, nil, "actor1")
	require.NoError(t, err)

	rec, err := s.Read(context.Background(), e, id)
	require.NoError(t, err)
	require.Equal(t, "v2", rec.Fields["title"])
	require.Equal(t, 2, rec.RID)

	rids, err := s.ListRevisions(context.Background(), e, id)
	require.NoError(t, err)
	require.Equal(t, []int{1}, rids)

	old, err := s.ReadRevision(context.Background(), e, id, 1)
	require.NoError(t, err)
	require.Equal(t, "v1", old.Fields["title"])
}

func TestUpdateNoOpWhenContentUnchanged(t *testing.T) {
	e := snippetEntity(true)
	db := setupDB(t, e)
	s := New(db, idgen.NewGenerator())

	id, err := s.Create(context.Background(), e, map[string]any{"title": "same"}, nil, "actor1")
	require.NoError(t, err)

	err = s.Update(context.Background(), e, id, map[string]any{"title": "same"}, nil, "actor1")
	require.NoError(t, err)

	rec, err := s.Read(context.Background(), e, id)
	require.NoError(t, err)
	require.Equal(t, 1, rec.RID)

	rids, err := s.ListRevisions(context.Background(), e, id)
	require.NoError(t, err)
	require.Empty(t, rids)
}

func TestReadRevisionServesLiveRowWhenCurrent(t *testing.T) {
	e := snippetEntity(true)
	db := setupDB(t, e)
	s := New(db, idgen.NewGenerator())

	id, err := s.Create(context.Background(), e, map[string]any{"title": "v1"}, nil, "actor1")
	require.NoError(t, err)

	rec, err := s.ReadRevision(context.Background(), e, id, 1)
	require.NoError(t, err)
	require.Equal(t, "v1", rec.Fields["title"])
}

func TestDeleteRemovesRow(t *testing.T) {
	e := snippetEntity(false)
	db := setupDB(t, e)
	s := New(db, idgen.NewGenerator())

	id, err := s.Create(context.Background(), e, map[string]any{"title": "gone"}, nil, "actor1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), e, id, "actor1"))

	_, err = s.Read(context.Background(), e, id)
	require.Error(t, err)
}

func TestListReturnsIDsInOrder(t *testing.T) {
	e := snippetEntity(false)
	db := setupDB(t, e)
	s := New(db, idgen.NewGenerator())

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := s.Create(context.Background(), e, map[string]any{"title": "x"}, nil, "actor1")
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	got, err := s.List(context.Background(), e, 10, 0)
	require.NoError(t, err)
	require.Equal(t, ids, got)
}

func TestRequiredFieldMissingIsInvalidField(t *testing.T) {
	e := snippetEntity(false)
	db := setupDB(t, e)
	s := New(db, idgen.NewGenerator())

	_, err := s.Create(context.Background(), e, map[string]any{}, nil, "actor1")
	require.Error(t, err)
}
