// Package actions derives an ordered, reversible action list from a
// diff, per spec §4.F. Action/rollback pairing and the ordered-list
// shape are adapted from the teacher's Migration/Operation
// (the teacher's internal/migration/migration.go: Kind, Risk, paired
// SQL/RollbackSQL, Dedupe), repointed from raw DDL statements to
// typed entity-storage actions.
package actions

import (
	"fmt"

	"contentd/internal/diff"
	"contentd/internal/entities"
	"contentd/internal/fields"
)

// Kind identifies one reversible unit of change, §4.F.
type Kind string

const (
	CreateTable     Kind = "create_table"
	DropTable       Kind = "drop_table"
	AddColumn       Kind = "add_column"
	DropColumn      Kind = "drop_column"
	CreateIndex     Kind = "create_index"
	UpdateConfig    Kind = "update_config"
	InvalidateCache Kind = "invalidate_cache"
	NoOp            Kind = "no_op"
)

// Action is one generator-emitted unit of change, always paired with a
// Rollback describing how to reverse it.
type Action struct {
	Kind           Kind
	Classification diff.Classification
	Description    string

	Table  string
	Column *fields.ColumnPlan
	Plan   *entities.EntityPlan

	ConfigID     string
	ConfigValues map[string]any

	CacheEntityID string

	Rollback *Action
}

// Dedupe removes exact duplicate actions (same Kind, Table, column
// name, config id and cache entity id), preserving first-seen order — mirrors the teacher's
// Migration.Dedupe kind-specific seen-set approach.
func Dedupe(actions []Action) []Action {
	seen := make(map[string]bool, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		key := fmt.Sprintf("%s|%s", a.Kind, a.Table)
		if a.Column != nil {
			key += "|" + a.Column.Name
		}
		if a.ConfigID != "" {
			key += "|" + a.ConfigID
		}
		if a.CacheEntityID != "" {
			key += "|" + a.CacheEntityID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// order assigns a sort weight so creations run before writes and
// drops run last, additions before index creation, per §4.F.
func order(k Kind) int {
	switch k {
	case CreateTable:
		return 0
	case AddColumn:
		return 1
	case CreateIndex:
		return 2
	case UpdateConfig:
		return 3
	case InvalidateCache:
		return 4
	case NoOp:
		return 5
	case DropColumn:
		return 6
	case DropTable:
		return 7
	default:
		return 8
	}
}

// Sort orders actions per the §4.F ordering rule using a stable sort.
func Sort(actions []Action) {
	stableSortByOrder(actions)
}

func stableSortByOrder(actions []Action) {
	// insertion sort: action lists are short (tens, not thousands) per
	// reload, and stability matters more than asymptotic complexity.
	for i := 1; i < len(actions); i++ {
		j := i
		for j > 0 && order(actions[j-1].Kind) > order(actions[j].Kind) {
			actions[j-1], actions[j] = actions[j], actions[j-1]
			j--
		}
	}
}

// ForNewEntity emits the CreateTable action (covering parent, side,
// and revisions tables in one plan) plus a CreateIndex action per
// indexed column, for an entity that did not exist before.
func ForNewEntity(e *entities.Entity) ([]Action, error) {
	plan, err := e.Plan()
	if err != nil {
		return nil, fmt.Errorf("actions: plan entity %q: %w", e.ID, err)
	}
	var out []Action
	out = append(out, Action{
		Kind:           CreateTable,
		Classification: diff.Safe,
		Table:          plan.Parent.Name,
		Plan:           plan,
		Description:    fmt.Sprintf("create tables for entity %q", e.ID),
		Rollback: &Action{
			Kind: DropTable, Table: plan.Parent.Name, Plan: plan,
			Description: fmt.Sprintf("drop tables for entity %q", e.ID),
		},
	})
	for _, idx := range plan.Parent.Indexes {
		out = append(out, indexAction(plan.Parent.Name, idx))
	}
	for _, side := range plan.SideTables {
		for _, idx := range side.Indexes {
			out = append(out, indexAction(side.Name, idx))
		}
	}
	return out, nil
}

func indexAction(table, column string) Action {
	return Action{
		Kind: CreateIndex, Classification: diff.Safe, Table: table,
		Column:      &fields.ColumnPlan{Name: column},
		Description: fmt.Sprintf("create index on %s(%s)", table, column),
		Rollback: &Action{
			Kind: NoOp, Table: table,
			Description: fmt.Sprintf("dropping the index on %s(%s) is deferred to DropTable", table, column),
		},
	}
}

// ForRemovedEntity emits a DropTable action for an entity that no
// longer exists in the new declaration tree. Always Breaking and,
// per §8 property 6, not truly reversible — its Rollback is recorded
// for audit purposes only and the generator must never let an
// unaccepted Breaking action reach the executor (see
// coordinator.ReloadOptions.AcceptBreaking).
func ForRemovedEntity(e *entities.Entity) ([]Action, error) {
	plan, err := e.Plan()
	if err != nil {
		return nil, fmt.Errorf("actions: plan entity %q: %w", e.ID, err)
	}
	return []Action{{
		Kind:           DropTable,
		Classification: diff.Breaking,
		Table:          plan.Parent.Name,
		Plan:           plan,
		Description:    fmt.Sprintf("drop tables for removed entity %q", e.ID),
		Rollback: &Action{
			Kind: CreateTable, Table: plan.Parent.Name, Plan: plan,
			Description: fmt.Sprintf("recreate tables for entity %q (data is NOT restored)", e.ID),
		},
	}}, nil
}

// ForEntityDiff maps a diff between two versions of the same entity
// into AddColumn/DropColumn/InvalidateCache/NoOp actions.
func ForEntityDiff(newEntity *entities.Entity, d *diff.EntityDiff) ([]Action, error) {
	var out []Action
	shapeChanged := false

	for _, c := range d.Changes {
		switch c.Kind {
		case diff.AddedKey:
			f, ok := findFieldByPath(newEntity, c.Path)
			if !ok {
				continue
			}
			cols, err := f.Columns("")
			if err != nil {
				return nil, err
			}
			for _, col := range cols {
				plan := col.Plan
				out = append(out, Action{
					Kind: AddColumn, Classification: c.Classification,
					Table: entities.ContentTable(newEntity.ID), Column: &plan,
					Description: fmt.Sprintf("add column %s to %s", plan.Name, entities.ContentTable(newEntity.ID)),
					Rollback: &Action{
						Kind: DropColumn, Table: entities.ContentTable(newEntity.ID), Column: &plan,
						Description: fmt.Sprintf("drop column %s from %s", plan.Name, entities.ContentTable(newEntity.ID)),
					},
				})
			}
			shapeChanged = true
		case diff.RemovedKey:
			name := lastPathSegment(c.Path)
			plan := fields.ColumnPlan{Name: name}
			out = append(out, Action{
				Kind: DropColumn, Classification: diff.Breaking,
				Table: entities.ContentTable(newEntity.ID), Column: &plan,
				Description: fmt.Sprintf("drop column %s from %s", name, entities.ContentTable(newEntity.ID)),
				Rollback: &Action{
					Kind: AddColumn, Table: entities.ContentTable(newEntity.ID), Column: &plan,
					Description: "column data is NOT restored",
				},
			})
			shapeChanged = true
		case diff.TypeChanged, diff.ValueChanged:
			if c.Classification == diff.Safe {
				out = append(out, Action{Kind: NoOp, Classification: diff.Safe, Description: "cosmetic change at " + c.Path})
			} else {
				shapeChanged = true
			}
		}
	}

	if shapeChanged {
		out = append(out, Action{
			Kind: InvalidateCache, Classification: diff.Warning,
			CacheEntityID: newEntity.ID,
			Description:   fmt.Sprintf("invalidate cache for entity %q after shape change", newEntity.ID),
			Rollback:      &Action{Kind: NoOp, Description: "cache invalidation is not reversible"},
		})
	}

	return out, nil
}

// ForConfigDiff emits a single UpdateConfig action swapping the whole
// value tree, per §4.F item 6 ("atomic swap").
func ForConfigDiff(d *diff.ConfigDiff, newValues map[string]any, oldValues map[string]any) Action {
	return Action{
		Kind: UpdateConfig, Classification: d.Classification,
		ConfigID: d.ConfigID, ConfigValues: newValues,
		Description: fmt.Sprintf("swap configuration %q", d.ConfigID),
		Rollback: &Action{
			Kind: UpdateConfig, ConfigID: d.ConfigID, ConfigValues: oldValues,
			Description: fmt.Sprintf("restore configuration %q", d.ConfigID),
		},
	}
}

func lastPathSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return path
}

func findFieldByPath(e *entities.Entity, path string) (*fields.Field, bool) {
	// path is "fields.{id}" for a top-level field addition.
	const prefix = "fields."
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return nil, false
	}
	id := path[len(prefix):]
	for _, f := range e.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}
