// Package fields implements the field and type model: the primitive and
// composite field kinds an entity schema can declare, their mapping to
// storage columns, and their value validation.
package fields

import (
	"fmt"
	"sync"
)

// Kind identifies a field's value shape.
type Kind string

const (
	KindText            Kind = "text"
	KindLongText        Kind = "long_text"
	KindRichText        Kind = "rich_text"
	KindInteger         Kind = "integer"
	KindFloat           Kind = "float"
	KindBoolean         Kind = "boolean"
	KindDatetime        Kind = "datetime"
	KindSlug            Kind = "slug"
	KindComponent       Kind = "component"
	KindEntityReference Kind = "entity_reference"
)

// Cardinality controls whether a field stores a single value in a parent
// column or an unbounded list of values in a side table.
type Cardinality string

const (
	CardinalitySingle     Cardinality = "1"
	CardinalityUnbounded  Cardinality = "unbounded"
	defaultCardinalityRaw             = CardinalitySingle
)

// ColumnPlan describes one physical column derived from a field.
type ColumnPlan struct {
	Name     string
	SQLType  string
	Nullable bool
	Default  *string
}

// KindHandler is the open extension point for a field kind: it knows how
// to map itself to storage and how to validate a value. New kinds are
// added by calling RegisterKind rather than editing a closed switch,
// per the registry pattern used throughout this codebase for anything
// that must stay open to runtime extension (see internal/registry).
type KindHandler interface {
	// SQLType returns the storage column type for this kind. Returns
	// ok=false when the kind never produces a column of its own
	// (component). Unbounded cardinality is not seen here: side-table
	// placement is decided by Field.IsSideTable.
	SQLType() (sqlType string, ok bool)
	// Validate checks a decoded value against kind-specific rules.
	Validate(value any) error
}

var (
	registryMu sync.RWMutex
	registry   = map[Kind]func() KindHandler{
		KindText:            func() KindHandler { return textHandler{maxLen: 255} },
		KindLongText:        func() KindHandler { return textHandler{maxLen: 0} },
		KindRichText:        func() KindHandler { return textHandler{maxLen: 0} },
		KindInteger:         func() KindHandler { return integerHandler{} },
		KindFloat:           func() KindHandler { return floatHandler{} },
		KindBoolean:         func() KindHandler { return booleanHandler{} },
		KindDatetime:        func() KindHandler { return datetimeHandler{} },
		KindSlug:            func() KindHandler { return slugHandler{} },
		KindComponent:       func() KindHandler { return componentHandler{} },
		KindEntityReference: func() KindHandler { return entityReferenceHandler{} },
	}
)

// RegisterKind adds or replaces the handler constructor for a field kind.
// Exported so a caller embedding this package can introduce a new field
// kind (e.g. a geo-point or a money type) without modifying this package.
func RegisterKind(kind Kind, ctor func() KindHandler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// GetKind resolves a Kind to its handler. Returns an error for unknown
// kinds so the schema loader can surface a precise InvalidSchema error.
func GetKind(kind Kind) (KindHandler, error) {
	registryMu.RLock()
	ctor, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("fields: unknown field kind %q", kind)
	}
	return ctor(), nil
}

// KnownKinds returns the currently registered kind names. Intended for
// error messages and loader diagnostics.
func KnownKinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}
