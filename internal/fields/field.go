package fields

import (
	"fmt"
	"regexp"
)

// idPattern constrains field and entity ids to a safe identifier shape,
// since ids are interpolated into generated table/column names.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Field describes one entity attribute: a stable id, a kind, and
// kind-specific metadata. See Entity for how a Field is combined with
// its siblings into a table.
type Field struct {
	ID           string
	Label        string
	Kind         Kind
	Required     bool
	Cardinality  Cardinality
	TargetEntity string  // entity_reference only
	Fields       []*Field // component only: sub-fields
}

// SideTableValueColumn is the column name used for the value of an
// unbounded-cardinality field's side table row.
const SideTableValueColumn = "value"

// ColumnSpec pairs a leaf field's dotted id with its column plan.
type ColumnSpec struct {
	DottedID string
	Plan     ColumnPlan
}

// Validate checks the field declaration itself, independent of any
// instance value: unknown kind, missing target_entity on an
// entity_reference, malformed id, or a component with no sub-fields.
func (f *Field) Validate() error {
	if !idPattern.MatchString(f.ID) {
		return fmt.Errorf("field id %q must match %s", f.ID, idPattern.String())
	}
	handler, err := GetKind(f.Kind)
	if err != nil {
		return err
	}
	switch f.Kind {
	case KindEntityReference:
		if f.TargetEntity == "" {
			return fmt.Errorf("field %q: entity_reference requires target_entity", f.ID)
		}
	case KindComponent:
		if len(f.Fields) == 0 {
			return fmt.Errorf("field %q: component requires at least one sub-field", f.ID)
		}
		seen := make(map[string]bool, len(f.Fields))
		for _, sub := range f.Fields {
			if seen[sub.ID] {
				return fmt.Errorf("field %q: duplicate sub-field id %q", f.ID, sub.ID)
			}
			seen[sub.ID] = true
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("field %q: %w", f.ID, err)
			}
		}
	}
	_ = handler
	return nil
}

// ValidateValue runs the kind's value-validation predicate, honoring
// Required for an absent value.
func (f *Field) ValidateValue(value any) error {
	if value == nil {
		if f.Required {
			return fmt.Errorf("field %q is required", f.ID)
		}
		return nil
	}
	handler, err := GetKind(f.Kind)
	if err != nil {
		return err
	}
	return handler.Validate(value)
}

// IsSideTable reports whether this field is stored exclusively in a
// side table rather than as a column on the parent: true whenever
// cardinality is unbounded, per spec (§3.1, §4.A). A component field is
// never itself a side table — it is flattened instead.
func (f *Field) IsSideTable() bool {
	return f.Cardinality == CardinalityUnbounded && f.Kind != KindComponent
}

// Columns returns the flattened set of leaf column specs this field
// contributes to its owning table, under dotted id prefix. A
// single-cardinality scalar field contributes one column named by its
// own id. A component contributes one column per leaf sub-field, named
// "{component_id}.{sub_id}" recursively, and zero columns for itself.
// A side-table field contributes zero columns here; its value column
// lives in the side table instead (see SideTableValueColumn).
func (f *Field) Columns(prefix string) ([]ColumnSpec, error) {
	dotted := f.ID
	if prefix != "" {
		dotted = prefix + "." + f.ID
	}

	if f.IsSideTable() {
		return nil, nil
	}

	if f.Kind == KindComponent {
		var out []ColumnSpec
		for _, sub := range f.Fields {
			subCols, err := sub.Columns(dotted)
			if err != nil {
				return nil, err
			}
			out = append(out, subCols...)
		}
		return out, nil
	}

	handler, err := GetKind(f.Kind)
	if err != nil {
		return nil, err
	}
	sqlType, ok := handler.SQLType()
	if !ok {
		return nil, nil
	}
	return []ColumnSpec{{
		DottedID: dotted,
		Plan: ColumnPlan{
			Name:     dotted,
			SQLType:  sqlType,
			Nullable: !f.Required,
		},
	}}, nil
}

// SideTableValueType returns the SQL type of the value column for a
// field placed in a side table. Only meaningful when IsSideTable()
// is true.
func (f *Field) SideTableValueType() (string, error) {
	handler, err := GetKind(f.Kind)
	if err != nil {
		return "", err
	}
	sqlType, ok := handler.SQLType()
	if !ok {
		return "", fmt.Errorf("field %q: kind %s cannot be placed in a side table", f.ID, f.Kind)
	}
	return sqlType, nil
}
