// Package diff implements structural comparison of entity and
// configuration declaration trees, classifying each change as
// Safe, Warning, or Breaking, per spec §4.E. The overall shape —
// Added/Removed/Modified collections plus a per-change dotted-path
// description — is carried over from the teacher's SchemaDiff/
// TableDiff (the teacher's internal/diff/diff.go), repointed from
// SQL table structure to entity/field structure.
package diff

import (
	"fmt"

	"contentd/internal/entities"
	"contentd/internal/fields"
	"contentd/internal/loader"
)

// Classification is the severity of one change, §4.E.
type Classification int

const (
	Safe Classification = iota
	Warning
	Breaking
)

func (c Classification) String() string {
	switch c {
	case Safe:
		return "safe"
	case Warning:
		return "warning"
	case Breaking:
		return "breaking"
	default:
		return "unknown"
	}
}

// stronger returns the more severe of a and b — the "strongest wins"
// rule from §4.E.
func stronger(a, b Classification) Classification {
	if b > a {
		return b
	}
	return a
}

// ChangeKind identifies the shape of one Change.
type ChangeKind string

const (
	AddedKey     ChangeKind = "added_key"
	RemovedKey   ChangeKind = "removed_key"
	TypeChanged  ChangeKind = "type_changed"
	ValueChanged ChangeKind = "value_changed"
)

// Change is one structural difference, addressed by a dotted JSON-like
// path (e.g. "fields.title.required", "versioned").
type Change struct {
	Path           string
	Kind           ChangeKind
	Old            any
	New            any
	Classification Classification
}

// EntityDiff is the structural diff between two versions of the same
// entity declaration.
type EntityDiff struct {
	EntityID       string
	Changes        []Change
	Classification Classification
}

// ConfigDiff is the structural diff between two versions of the same
// configuration.
type ConfigDiff struct {
	ConfigID       string
	Changes        []Change
	Classification Classification
}

func (d *EntityDiff) add(c Change) {
	d.Changes = append(d.Changes, c)
	d.Classification = stronger(d.Classification, c.Classification)
}

func (d *ConfigDiff) add(c Change) {
	d.Changes = append(d.Changes, c)
	d.Classification = stronger(d.Classification, c.Classification)
}

// IsEmpty reports whether the entity actually changed.
func (d *EntityDiff) IsEmpty() bool { return len(d.Changes) == 0 }

// DiffEntity compares old and new declarations of the same entity id
// (old or new may be nil, meaning the entity was added or removed
// outright — callers typically handle that case before calling
// DiffEntity; this function assumes both are non-nil and share an id).
func DiffEntity(old, new *entities.Entity) *EntityDiff {
	d := &EntityDiff{EntityID: new.ID}

	if old.Versioned && !new.Versioned {
		d.add(Change{Path: "versioned", Kind: ValueChanged, Old: true, New: false, Classification: Breaking})
	} else if !old.Versioned && new.Versioned {
		d.add(Change{Path: "versioned", Kind: ValueChanged, Old: false, New: true, Classification: Safe})
	}

	if old.Description != new.Description {
		d.add(Change{Path: "description", Kind: ValueChanged, Old: old.Description, New: new.Description, Classification: Safe})
	}
	if old.Recursive != new.Recursive {
		d.add(Change{Path: "recursive", Kind: ValueChanged, Old: old.Recursive, New: new.Recursive, Classification: Safe})
	}
	if old.Cacheable != new.Cacheable {
		d.add(Change{Path: "cacheable", Kind: ValueChanged, Old: old.Cacheable, New: new.Cacheable, Classification: Safe})
	}

	oldFields := indexFields(old.Fields)
	newFields := indexFields(new.Fields)

	for id, nf := range newFields {
		of, existed := oldFields[id]
		path := "fields." + id
		if !existed {
			c := Change{Path: path, Kind: AddedKey, New: nf, Classification: Safe}
			if nf.Required {
				c.Classification = Warning // a new required field has no safe default for existing rows
			}
			d.add(c)
			continue
		}
		diffField(d, path, of, nf)
	}
	for id, of := range oldFields {
		if _, stillPresent := newFields[id]; !stillPresent {
			d.add(Change{Path: "fields." + id, Kind: RemovedKey, Old: of, Classification: Breaking})
		}
	}

	return d
}

func indexFields(fs []*fields.Field) map[string]*fields.Field {
	out := make(map[string]*fields.Field, len(fs))
	for _, f := range fs {
		out[f.ID] = f
	}
	return out
}

func diffField(d *EntityDiff, path string, old, new *fields.Field) {
	if old.Kind != new.Kind {
		cls := Breaking
		if kindWideningCompatible(old.Kind, new.Kind) {
			cls = Warning
		}
		d.add(Change{Path: path + ".type", Kind: TypeChanged, Old: old.Kind, New: new.Kind, Classification: cls})
	}
	if old.Cardinality != new.Cardinality {
		cls := Warning
		if old.Cardinality == fields.CardinalityUnbounded && new.Cardinality == fields.CardinalitySingle {
			cls = Breaking // collapsing a side table into a single column can lose data
		}
		d.add(Change{Path: path + ".cardinality", Kind: ValueChanged, Old: old.Cardinality, New: new.Cardinality, Classification: cls})
	}
	if old.Required != new.Required {
		cls := Safe
		if !old.Required && new.Required {
			cls = Warning // tightening a constraint can reject existing rows
		}
		d.add(Change{Path: path + ".required", Kind: ValueChanged, Old: old.Required, New: new.Required, Classification: cls})
	}
	if old.TargetEntity != new.TargetEntity {
		d.add(Change{Path: path + ".target_entity", Kind: ValueChanged, Old: old.TargetEntity, New: new.TargetEntity, Classification: Breaking})
	}
	if old.Kind == fields.KindComponent && new.Kind == fields.KindComponent {
		oldSub := indexFields(old.Fields)
		newSub := indexFields(new.Fields)
		for id, nf := range newSub {
			if of, ok := oldSub[id]; ok {
				diffField(d, fmt.Sprintf("%s.%s", path, id), of, nf)
			} else {
				d.add(Change{Path: fmt.Sprintf("%s.%s", path, id), Kind: AddedKey, New: nf, Classification: Safe})
			}
		}
		for id, of := range oldSub {
			if _, ok := newSub[id]; !ok {
				d.add(Change{Path: fmt.Sprintf("%s.%s", path, id), Kind: RemovedKey, Old: of, Classification: Breaking})
			}
		}
	}
}

// kindWideningCompatible reports whether changing from one kind to
// another cannot lose information already stored (e.g. text widened
// to long_text). All other kind changes are type-incompatible and
// therefore Breaking.
func kindWideningCompatible(old, new fields.Kind) bool {
	widenings := map[fields.Kind][]fields.Kind{
		fields.KindText: {fields.KindLongText, fields.KindRichText},
	}
	for _, w := range widenings[old] {
		if w == new {
			return true
		}
	}
	return false
}

// DiffConfig compares old and new values of the same configuration id.
// Added keys are Safe; removed or type-changed keys are Breaking;
// changed leaf values are Warning (a config value changing is not
// structural but does change effective behavior).
func DiffConfig(old, new *loader.Configuration) *ConfigDiff {
	d := &ConfigDiff{ConfigID: new.ID}
	diffValues(d, "", old.Values, new.Values)
	return d
}

func diffValues(d *ConfigDiff, prefix string, old, new map[string]any) {
	for k, nv := range new {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		ov, existed := old[k]
		if !existed {
			d.add(Change{Path: path, Kind: AddedKey, New: nv, Classification: Safe})
			continue
		}
		compareValue(d, path, ov, nv)
	}
	for k, ov := range old {
		if _, stillPresent := new[k]; !stillPresent {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			d.add(Change{Path: path, Kind: RemovedKey, Old: ov, Classification: Breaking})
		}
	}
}

func compareValue(d *ConfigDiff, path string, old, new any) {
	oldMap, oldIsMap := old.(map[string]any)
	newMap, newIsMap := new.(map[string]any)
	if oldIsMap && newIsMap {
		diffValues(d, path, oldMap, newMap)
		return
	}
	if fmt.Sprintf("%T", old) != fmt.Sprintf("%T", new) {
		d.add(Change{Path: path, Kind: TypeChanged, Old: old, New: new, Classification: Breaking})
		return
	}
	if fmt.Sprintf("%v", old) != fmt.Sprintf("%v", new) {
		d.add(Change{Path: path, Kind: ValueChanged, Old: old, New: new, Classification: Warning})
	}
}
