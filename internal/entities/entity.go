// Package entities implements the in-memory entity shape: ordered
// fields, the versioned/cacheable/recursive flags, and the pure
// table-name derivation functions that every other component (storage,
// diff, actions) relies on.
package entities

import (
	"fmt"

	"contentd/internal/fields"
)

// Entity is an in-memory content type declaration. It is immutable once
// installed in the registry except through the registry's whole-vector
// replace-in-place protocol; nothing here mutates an Entity after
// construction.
type Entity struct {
	ID          string
	Name        string
	Description string
	Fields      []*fields.Field
	Versioned   bool
	Cacheable   bool
	Recursive   bool
}

// ContentTable returns the parent table name for entity id, e.g.
// "content_snippet".
func ContentTable(entityID string) string {
	return "content_" + entityID
}

// SideTable returns the side-table name for an unbounded field of
// entity id, e.g. "field_snippet_tags".
func SideTable(entityID, fieldID string) string {
	return fmt.Sprintf("field_%s_%s", entityID, fieldID)
}

// RevisionsTable returns the revisions-table name for a versioned
// entity's parent table, e.g. "content_revisions_snippet".
func RevisionsTable(entityID string) string {
	return "content_revisions_" + entityID
}

// FieldRevisionsTable returns the revisions-table name for a side
// table, e.g. "field_revisions_snippet_tags".
func FieldRevisionsTable(entityID, fieldID string) string {
	return fmt.Sprintf("field_revisions_%s_%s", entityID, fieldID)
}

// FieldReferenceColumn is the parent-table column naming an unbounded
// field's side table, per spec §3.3: "field_reference_{field_id}".
func FieldReferenceColumn(fieldID string) string {
	return "field_reference_" + fieldID
}

// SideTableFields returns this entity's unbounded-cardinality fields,
// in declaration order, each of which is stored exclusively in its own
// side table rather than as a parent column.
func (e *Entity) SideTableFields() []*fields.Field {
	var out []*fields.Field
	for _, f := range e.Fields {
		if f.IsSideTable() {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks structural invariants of the entity declaration
// itself: a well-formed id, no duplicate field ids, and that every
// field individually validates.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity: id is required")
	}
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if seen[f.ID] {
			return fmt.Errorf("entity %q: duplicate field id %q", e.ID, f.ID)
		}
		seen[f.ID] = true
		if err := f.Validate(); err != nil {
			return fmt.Errorf("entity %q: %w", e.ID, err)
		}
	}
	return nil
}

// ValidateSet checks the cross-entity invariant from spec §4.B: two
// entities sharing an id is a fatal load error. It does not call
// Validate on each entity; callers are expected to do that separately
// so a single bad entity doesn't mask a duplicate-id report on others.
func ValidateSet(all []*Entity) error {
	seen := make(map[string]bool, len(all))
	for _, e := range all {
		if seen[e.ID] {
			return fmt.Errorf("duplicate entity id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}
