// DDL generation. Per spec §9 ("Dynamic-SQL surface is small and
// internal. Only the action executor may emit DDL"), this is the one
// place in the codebase that builds CREATE/ALTER/DROP statements; every
// other component issues parameterized DML only. Adapted in shape from
// the teacher's dialect generators (internal/dialect), narrowed to the
// one dialect this system targets: modernc.org/sqlite.
package executor

import (
	"fmt"
	"strings"

	"contentd/internal/actions"
	"contentd/internal/entities"
)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func columnDDL(c entities.ColumnPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", quoteIdent(c.Name), c.SQLType)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Default != nil {
		fmt.Fprintf(&b, " DEFAULT %s", sqlLiteral(*c.Default, c.SQLType))
	}
	return b.String()
}

func sqlLiteral(v, sqlType string) string {
	// Numeric defaults of numeric columns pass through unquoted;
	// everything else is a single-quoted string literal, sqlite's only
	// text-literal form.
	if v == "" {
		return "''"
	}
	isNumeric := sqlType == "INTEGER" || sqlType == "REAL" || sqlType == "BOOLEAN"
	for _, r := range v {
		if (r < '0' || r > '9') && r != '-' && r != '.' {
			isNumeric = false
			break
		}
	}
	if isNumeric {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func createTableSQL(t entities.TablePlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdent(t.Name))
	parts := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		parts = append(parts, "  "+columnDDL(c))
	}
	pk := quoteIdent(t.PrimaryKey)
	if !t.RIDHasDefault && t.ForeignKey == nil && t.PrimaryKey == "id" {
		// A revisions table holds one archived row per (id, rid).
		pk += ", " + quoteIdent("rid")
	}
	parts = append(parts, fmt.Sprintf("  PRIMARY KEY (%s)", pk))
	if t.ForeignKey != nil {
		fk := t.ForeignKey
		parts = append(parts, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s",
			quoteIdent(fk.Column), quoteIdent(fk.RefTable), quoteIdent(fk.RefColumn), fk.OnDelete))
	}
	b.WriteString(strings.Join(parts, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func createIndexSQL(table, column string) string {
	name := fmt.Sprintf("idx_%s_%s", table, column)
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", quoteIdent(name), quoteIdent(table), quoteIdent(column))
}

func dropTableSQL(name string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))
}

func addColumnSQL(table string, c entities.ColumnPlan) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), columnDDL(c))
}

// dropColumnSQL relies on sqlite's ALTER TABLE ... DROP COLUMN,
// available from sqlite 3.35 (bundled by modernc.org/sqlite).
func dropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(table), quoteIdent(column))
}

// statementsFor returns the ordered list of DDL statements an Action
// produces. CreateTable/DropTable expand to every table in the
// entity's plan (parent, side tables, revisions tables).
func statementsFor(a actions.Action) ([]string, error) {
	switch a.Kind {
	case actions.CreateTable:
		if a.Plan == nil {
			return nil, fmt.Errorf("create_table action for %q has no plan", a.Table)
		}
		var stmts []string
		stmts = append(stmts, createTableSQL(a.Plan.Parent))
		for _, s := range a.Plan.SideTables {
			stmts = append(stmts, createTableSQL(s))
		}
		if a.Plan.Revisions != nil {
			stmts = append(stmts, createTableSQL(*a.Plan.Revisions))
		}
		for _, s := range a.Plan.RevisionSideTables {
			stmts = append(stmts, createTableSQL(s))
		}
		return stmts, nil
	case actions.DropTable:
		if a.Plan == nil {
			return []string{dropTableSQL(a.Table)}, nil
		}
		var stmts []string
		for _, s := range a.Plan.RevisionSideTables {
			stmts = append(stmts, dropTableSQL(s.Name))
		}
		if a.Plan.Revisions != nil {
			stmts = append(stmts, dropTableSQL(a.Plan.Revisions.Name))
		}
		for _, s := range a.Plan.SideTables {
			stmts = append(stmts, dropTableSQL(s.Name))
		}
		stmts = append(stmts, dropTableSQL(a.Plan.Parent.Name))
		return stmts, nil
	case actions.AddColumn:
		if a.Column == nil {
			return nil, fmt.Errorf("add_column action on %q has no column", a.Table)
		}
		return []string{addColumnSQL(a.Table, *a.Column)}, nil
	case actions.DropColumn:
		if a.Column == nil {
			return nil, fmt.Errorf("drop_column action on %q has no column", a.Table)
		}
		return []string{dropColumnSQL(a.Table, a.Column.Name)}, nil
	case actions.CreateIndex:
		if a.Column == nil {
			return nil, fmt.Errorf("create_index action on %q has no column", a.Table)
		}
		return []string{createIndexSQL(a.Table, a.Column.Name)}, nil
	default:
		return nil, nil
	}
}

// isDBAction reports whether a runs inside the DDL transaction, as
// opposed to being staged for after commit.
func isDBAction(k actions.Kind) bool {
	switch k {
	case actions.CreateTable, actions.DropTable, actions.AddColumn, actions.DropColumn, actions.CreateIndex:
		return true
	default:
		return false
	}
}
