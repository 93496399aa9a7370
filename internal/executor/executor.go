// Package executor implements transactional execution of an action
// list, per spec §4.G: database actions in one transaction,
// configuration/cache effects staged and applied only after commit,
// dry-run support, and an ordered rollback list in the report on
// failure (the coordinator persists it with the failed version). The
// overall Apply flow (preflight → transactional execute → staged
// post-commit effects → report) is adapted from the teacher's
// Applier.Apply (internal/apply/apply.go in the teacher); we drop
// the interactive confirmation step (there is no human operator inside
// the core) but keep the transaction-then-stage-then-commit shape.
package executor

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"contentd/internal/actions"
	"contentd/internal/errs"
)

// Status is the final disposition of one Execute call.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusRolledBack Status = "rolled_back"
	StatusDryRun     Status = "dry_run"
)

// Outcome is the per-action result recorded in a Report.
type Outcome struct {
	Action   actions.Action
	Duration time.Duration
	Err      error
}

// Report is returned from every Execute call, win or lose.
type Report struct {
	Outcomes        []Outcome
	Status          Status
	RollbackActions []actions.Action
}

// Hooks are the non-DB effects staged during the transaction and run
// only after it commits.
type Hooks struct {
	UpdateConfig    func(configID string, values map[string]any) error
	InvalidateCache func(entityID string) error
}

// Executor runs action lists against one *sql.DB.
type Executor struct {
	db     *sql.DB
	hooks  Hooks
	logger *slog.Logger
}

// New builds an Executor over db, using hooks for staged non-DB
// effects.
func New(db *sql.DB, hooks Hooks, logger *slog.Logger) *Executor {
	return &Executor{db: db, hooks: hooks, logger: logger}
}

// Execute runs acts as a single unit of work. When dryRun is true, no
// statement is executed and the report reflects what would happen.
func (e *Executor) Execute(ctx context.Context, acts []actions.Action, dryRun bool) (*Report, error) {
	ordered := append([]actions.Action(nil), acts...)
	actions.Sort(ordered)
	ordered = actions.Dedupe(ordered)

	if dryRun {
		report := &Report{Status: StatusDryRun}
		for _, a := range ordered {
			report.Outcomes = append(report.Outcomes, Outcome{Action: a})
		}
		return report, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.StorageErr(err, true, "begin transaction")
	}

	report := &Report{}
	var staged []actions.Action
	var applied []actions.Action

	for _, a := range ordered {
		start := time.Now()
		var actErr error

		switch {
		case isDBAction(a.Kind):
			stmts, serr := statementsFor(a)
			if serr != nil {
				actErr = serr
				break
			}
			for _, stmt := range stmts {
				if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
					actErr = execErr
					break
				}
			}
		case a.Kind == actions.NoOp:
			// nothing to do
		default:
			staged = append(staged, a)
		}

		report.Outcomes = append(report.Outcomes, Outcome{Action: a, Duration: time.Since(start), Err: actErr})

		if actErr != nil {
			_ = tx.Rollback()
			report.Status = StatusRolledBack
			report.RollbackActions = rollbackListFor(applied)
			return report, errs.StorageErr(actErr, false, "apply action "+string(a.Kind)+" on "+a.Table)
		}
		applied = append(applied, a)
	}

	if err := tx.Commit(); err != nil {
		report.Status = StatusRolledBack
		report.RollbackActions = rollbackListFor(applied)
		return report, errs.StorageErr(err, false, "commit action batch")
	}

	for _, a := range staged {
		if err := e.applyStaged(a); err != nil {
			e.logger.Warn("staged effect failed after commit", "kind", a.Kind, "error", err)
			for i := range report.Outcomes {
				if report.Outcomes[i].Action.Kind == a.Kind && sameTarget(report.Outcomes[i].Action, a) {
					report.Outcomes[i].Err = err
				}
			}
		}
	}

	report.Status = StatusApplied
	return report, nil
}

func sameTarget(a, b actions.Action) bool {
	return a.ConfigID == b.ConfigID && a.CacheEntityID == b.CacheEntityID && a.Table == b.Table
}

func (e *Executor) applyStaged(a actions.Action) error {
	switch a.Kind {
	case actions.UpdateConfig:
		if e.hooks.UpdateConfig == nil {
			return nil
		}
		return e.hooks.UpdateConfig(a.ConfigID, a.ConfigValues)
	case actions.InvalidateCache:
		if e.hooks.InvalidateCache == nil {
			return nil
		}
		return e.hooks.InvalidateCache(a.CacheEntityID)
	default:
		return nil
	}
}

// rollbackListFor returns the rollback actions for applied, in
// reverse application order, ready to persist or re-execute.
func rollbackListFor(applied []actions.Action) []actions.Action {
	out := make([]actions.Action, 0, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		if r := applied[i].Rollback; r != nil {
			out = append(out, *r)
		}
	}
	return out
}
