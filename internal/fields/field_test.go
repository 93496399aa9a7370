package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldValidate(t *testing.T) {
	tests := []struct {
		name    string
		field   *Field
		wantErr bool
	}{
		{
			name:  "scalar text field",
			field: &Field{ID: "title", Kind: KindText, Required: true},
		},
		{
			name:    "bad id",
			field:   &Field{ID: "Title!", Kind: KindText},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			field:   &Field{ID: "title", Kind: Kind("made_up")},
			wantErr: true,
		},
		{
			name:    "entity_reference missing target",
			field:   &Field{ID: "owner", Kind: KindEntityReference},
			wantErr: true,
		},
		{
			name: "entity_reference with target",
			field: &Field{
				ID: "owner", Kind: KindEntityReference, TargetEntity: "user",
			},
		},
		{
			name:    "component with no sub-fields",
			field:   &Field{ID: "address", Kind: KindComponent},
			wantErr: true,
		},
		{
			name: "component with sub-fields",
			field: &Field{
				ID: "address", Kind: KindComponent,
				Fields: []*Field{
					{ID: "street", Kind: KindText},
					{ID: "city", Kind: KindText},
				},
			},
		},
		{
			name: "component with duplicate sub-field ids",
			field: &Field{
				ID: "address", Kind: KindComponent,
				Fields: []*Field{
					{ID: "street", Kind: KindText},
					{ID: "street", Kind: KindText},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.field.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFieldColumnsScalar(t *testing.T) {
	f := &Field{ID: "title", Kind: KindText, Required: true}
	cols, err := f.Columns("")
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "title", cols[0].DottedID)
	assert.False(t, cols[0].Plan.Nullable)
}

func TestFieldColumnsComponentFlattens(t *testing.T) {
	f := &Field{
		ID: "address", Kind: KindComponent,
		Fields: []*Field{
			{ID: "street", Kind: KindText},
			{ID: "city", Kind: KindText, Required: true},
		},
	}
	cols, err := f.Columns("")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "address.street", cols[0].DottedID)
	assert.Equal(t, "address.city", cols[1].DottedID)
}

func TestFieldColumnsUnboundedIsSideTableOnly(t *testing.T) {
	f := &Field{ID: "tags", Kind: KindText, Cardinality: CardinalityUnbounded}
	assert.True(t, f.IsSideTable())
	cols, err := f.Columns("")
	require.NoError(t, err)
	assert.Empty(t, cols)

	valType, err := f.SideTableValueType()
	require.NoError(t, err)
	assert.Equal(t, "VARCHAR(255)", valType)
}

func TestFieldColumnsEntityReferenceUnboundedHasNoParentColumn(t *testing.T) {
	f := &Field{
		ID: "related", Kind: KindEntityReference, TargetEntity: "snippet",
		Cardinality: CardinalityUnbounded,
	}
	require.NoError(t, f.Validate())
	cols, err := f.Columns("")
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Hello, World!", "hello_world"},
		{"  Leading and Trailing  ", "leading_and_trailing"},
		{"Already-valid_slug", "already-valid_slug"},
	}
	for _, tt := range tests {
		got := GenerateSlug(tt.title)
		assert.Equal(t, tt.want, got, tt.title)
		assert.True(t, ValidSlug(got), got)
	}
}

func TestRegisterKindOverride(t *testing.T) {
	custom := Kind("money")
	RegisterKind(custom, func() KindHandler { return integerHandler{} })
	handler, err := GetKind(custom)
	require.NoError(t, err)
	sqlType, ok := handler.SQLType()
	require.True(t, ok)
	assert.Equal(t, "INTEGER", sqlType)
}
