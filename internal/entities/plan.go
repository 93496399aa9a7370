package entities

import (
	"fmt"

	"contentd/internal/fields"
)

// DefaultCacheTTLSeconds is the per-row cache lifetime default, §3.3.
const DefaultCacheTTLSeconds = 86400

// SystemActorID is the zero-valued actor id used for system-initiated
// writes, §3.3.
const SystemActorID = "00000000000000000000000000"

// ColumnPlan is a physical column, reusing the field package's column
// shape for user-visible columns and adding the fixed system columns.
type ColumnPlan = fields.ColumnPlan

// ForeignKey describes a side table's link back to its parent row.
type ForeignKey struct {
	Column     string
	RefTable   string
	RefColumn  string
	OnDelete   string
}

// TablePlan is the CREATE-table plan for one physical table: parent,
// side, or revisions.
type TablePlan struct {
	Name       string
	Columns    []ColumnPlan
	PrimaryKey string
	Indexes    []string
	ForeignKey *ForeignKey
	// RIDHasDefault is false for revisions tables: rid carries the
	// archived value rather than defaulting to 1, per spec §3.3.
	RIDHasDefault bool
}

// EntityPlan is the full set of tables one entity materializes to.
type EntityPlan struct {
	Parent             TablePlan
	SideTables         []TablePlan
	Revisions          *TablePlan
	RevisionSideTables []TablePlan
}

func strPtr(s string) *string { return &s }

func systemColumns(entity *Entity, ridHasDefault bool) []ColumnPlan {
	cols := []ColumnPlan{
		{Name: "id", SQLType: "VARCHAR(26)", Nullable: false},
	}
	if ridHasDefault {
		cols = append(cols, ColumnPlan{Name: "rid", SQLType: "INTEGER", Nullable: false, Default: strPtr("1")})
	} else {
		cols = append(cols, ColumnPlan{Name: "rid", SQLType: "INTEGER", Nullable: false})
	}
	cols = append(cols,
		ColumnPlan{Name: "user", SQLType: "VARCHAR(26)", Nullable: false, Default: strPtr(SystemActorID)},
		ColumnPlan{Name: "content_hash", SQLType: "VARCHAR(64)", Nullable: false},
		ColumnPlan{Name: "last_cached", SQLType: "TIMESTAMP", Nullable: true},
		ColumnPlan{Name: "cache_ttl", SQLType: "INTEGER", Nullable: false, Default: strPtr(fmt.Sprintf("%d", DefaultCacheTTLSeconds))},
		ColumnPlan{Name: "created_at", SQLType: "TIMESTAMP", Nullable: false},
		ColumnPlan{Name: "updated_at", SQLType: "TIMESTAMP", Nullable: false},
	)
	return cols
}

// Plan derives the complete set of physical tables for this entity:
// the parent table (user columns + system columns + one
// field_reference_{f} per unbounded field), one side table per
// unbounded field, and — when Versioned — the parallel revisions
// tables with a non-defaulted rid, per spec §3.2/§3.3/§6.4.
func (e *Entity) Plan() (*EntityPlan, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	userCols, err := e.scalarColumns()
	if err != nil {
		return nil, err
	}

	parentCols := append([]ColumnPlan{}, userCols...)
	parentCols = append(parentCols, systemColumns(e, true)...)
	for _, f := range e.SideTableFields() {
		table := SideTable(e.ID, f.ID)
		parentCols = append(parentCols, ColumnPlan{
			Name:     FieldReferenceColumn(f.ID),
			SQLType:  "VARCHAR(128)",
			Nullable: false,
			Default:  strPtr(table),
		})
	}

	parent := TablePlan{
		Name:          ContentTable(e.ID),
		Columns:       parentCols,
		PrimaryKey:    "id",
		Indexes:       []string{"id"},
		RIDHasDefault: true,
	}
	for _, f := range e.Fields {
		if f.Kind == fields.KindEntityReference && !f.IsSideTable() {
			parent.Indexes = append(parent.Indexes, f.ID)
		}
	}

	plan := &EntityPlan{Parent: parent}

	for _, f := range e.SideTableFields() {
		side, err := e.sideTablePlan(f, true)
		if err != nil {
			return nil, err
		}
		plan.SideTables = append(plan.SideTables, side)
	}

	if e.Versioned {
		rev := parent
		rev.Name = RevisionsTable(e.ID)
		rev.RIDHasDefault = false
		rev.Columns = append([]ColumnPlan{}, userCols...)
		rev.Columns = append(rev.Columns, systemColumns(e, false)...)
		for _, f := range e.SideTableFields() {
			table := SideTable(e.ID, f.ID)
			rev.Columns = append(rev.Columns, ColumnPlan{
				Name:     FieldReferenceColumn(f.ID),
				SQLType:  "VARCHAR(128)",
				Nullable: false,
				Default:  strPtr(table),
			})
		}
		plan.Revisions = &rev

		for _, f := range e.SideTableFields() {
			side, err := e.sideTablePlan(f, false)
			if err != nil {
				return nil, err
			}
			side.Name = FieldRevisionsTable(e.ID, f.ID)
			side.ForeignKey = nil
			plan.RevisionSideTables = append(plan.RevisionSideTables, side)
		}
	}

	return plan, nil
}

// ScalarColumnSpecs returns the dotted-id column specs for every
// non-side-table field, in declaration order — the set of user
// columns the storage layer reads and writes on the parent table.
func (e *Entity) ScalarColumnSpecs() ([]fields.ColumnSpec, error) {
	var out []fields.ColumnSpec
	for _, f := range e.Fields {
		if f.IsSideTable() {
			continue
		}
		cols, err := f.Columns("")
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.ID, err)
		}
		out = append(out, cols...)
	}
	return out, nil
}

func (e *Entity) scalarColumns() ([]ColumnPlan, error) {
	var out []ColumnPlan
	for _, f := range e.Fields {
		if f.IsSideTable() {
			continue
		}
		cols, err := f.Columns("")
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.ID, err)
		}
		for _, c := range cols {
			out = append(out, c.Plan)
		}
	}
	return out, nil
}

func (e *Entity) sideTablePlan(f *fields.Field, ridHasDefault bool) (TablePlan, error) {
	valType, err := f.SideTableValueType()
	if err != nil {
		return TablePlan{}, fmt.Errorf("entity %q: %w", e.ID, err)
	}
	table := SideTable(e.ID, f.ID)
	cols := []ColumnPlan{
		{Name: "id", SQLType: "VARCHAR(26)", Nullable: false},
		{Name: "parent_id", SQLType: "VARCHAR(26)", Nullable: false},
		{Name: fields.SideTableValueColumn, SQLType: valType, Nullable: !f.Required},
		{Name: "sort_order", SQLType: "INTEGER", Nullable: false, Default: strPtr("0")},
	}
	cols = append(cols, systemColumns(e, ridHasDefault)[1:]...) // skip duplicate "id"
	return TablePlan{
		Name:          table,
		Columns:       cols,
		PrimaryKey:    "id",
		Indexes:       []string{"id", "parent_id"},
		RIDHasDefault: ridHasDefault,
		ForeignKey: &ForeignKey{
			Column:    "parent_id",
			RefTable:  ContentTable(e.ID),
			RefColumn: "id",
			OnDelete:  "CASCADE",
		},
	}, nil
}
