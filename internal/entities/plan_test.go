package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentd/internal/fields"
)

func snippetEntity(versioned bool) *Entity {
	return &Entity{
		ID:        "snippet",
		Name:      "Snippet",
		Versioned: versioned,
		Cacheable: true,
		Fields: []*fields.Field{
			{ID: "title", Kind: fields.KindText, Required: true},
			{ID: "body", Kind: fields.KindLongText},
		},
	}
}

func TestTableNameDerivation(t *testing.T) {
	assert.Equal(t, "content_snippet", ContentTable("snippet"))
	assert.Equal(t, "field_snippet_tags", SideTable("snippet", "tags"))
	assert.Equal(t, "content_revisions_snippet", RevisionsTable("snippet"))
	assert.Equal(t, "field_revisions_snippet_tags", FieldRevisionsTable("snippet", "tags"))
	assert.Equal(t, "field_reference_tags", FieldReferenceColumn("tags"))
}

func TestEntityPlanParentColumnsIncludeSystemColumns(t *testing.T) {
	e := snippetEntity(false)
	plan, err := e.Plan()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, c := range plan.Parent.Columns {
		names[c.Name] = true
	}
	for _, want := range []string{
		"id", "rid", "user", "content_hash", "last_cached", "cache_ttl",
		"created_at", "updated_at", "title", "body",
	} {
		assert.True(t, names[want], "missing column %s", want)
	}
	// exactly system columns + scalar user fields, no extras
	assert.Len(t, plan.Parent.Columns, 10)
	assert.Nil(t, plan.Revisions)
}

func TestEntityPlanVersionedHasRevisions(t *testing.T) {
	e := snippetEntity(true)
	plan, err := e.Plan()
	require.NoError(t, err)
	require.NotNil(t, plan.Revisions)
	assert.Equal(t, "content_revisions_snippet", plan.Revisions.Name)
	assert.False(t, plan.Revisions.RIDHasDefault)
	assert.True(t, plan.Parent.RIDHasDefault)
}

func TestEntityPlanUnboundedFieldProducesSideTableAndFieldReference(t *testing.T) {
	e := &Entity{
		ID: "multi",
		Fields: []*fields.Field{
			{ID: "tags", Kind: fields.KindText, Cardinality: fields.CardinalityUnbounded},
		},
	}
	plan, err := e.Plan()
	require.NoError(t, err)
	require.Len(t, plan.SideTables, 1)
	assert.Equal(t, "field_multi_tags", plan.SideTables[0].Name)
	require.NotNil(t, plan.SideTables[0].ForeignKey)
	assert.Equal(t, "content_multi", plan.SideTables[0].ForeignKey.RefTable)

	foundRef := false
	for _, c := range plan.Parent.Columns {
		if c.Name == "field_reference_tags" {
			foundRef = true
			require.NotNil(t, c.Default)
			assert.Equal(t, "field_multi_tags", *c.Default)
		}
	}
	assert.True(t, foundRef)
}

func TestValidateSetRejectsDuplicateIDs(t *testing.T) {
	a := snippetEntity(false)
	b := snippetEntity(false)
	err := ValidateSet([]*Entity{a, b})
	assert.Error(t, err)
}
