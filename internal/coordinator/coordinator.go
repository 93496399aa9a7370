// Package coordinator wires the watcher, loader, diff engine, action
// generator, executor, and version tracker against the live registry.
// The overall reload flow (load → diff → generate actions → fail-fast
// on unaccepted Breaking actions → execute → record version) is
// adapted from cmd/smf/main.go's runDiff/runMigrate/runApply sequence,
// generalized from one-shot CLI verbs into a long-lived reload loop
// triggered by file-watcher events.
package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contentd/internal/actions"
	"contentd/internal/diff"
	"contentd/internal/errs"
	"contentd/internal/executor"
	"contentd/internal/loader"
	"contentd/internal/registry"
	"contentd/internal/versiontrack"
	"contentd/internal/watcher"
)

// ReloadOptions gates destructive reloads, §9 Open Question.
type ReloadOptions struct {
	// AcceptBreaking allows a reload whose action list contains a
	// Breaking-classified action to proceed. Without it, the whole
	// reload aborts before any transaction opens.
	AcceptBreaking bool
}

// ReloadReport is the structured result of one Reload call, win or
// lose, named in spec.md §7 but left unshaped there.
type ReloadReport struct {
	Path             string
	OldVersion       int
	NewVersion       int
	EntityDiffs      []*diff.EntityDiff
	ConfigDiffs      []*diff.ConfigDiff
	Actions          []actions.Action
	ExecutionReport  *executor.Report
	Classification   diff.Classification
	AcceptedBreaking bool
	Err              error
}

// Coordinator owns the reload lifecycle against one registry/db pair.
type Coordinator struct {
	schemaDir string
	configDir string

	registry *registry.Registry
	db       *sql.DB
	tracker  *versiontrack.Tracker
	executor *executor.Executor
	logger   *slog.Logger

	retryDelays []time.Duration
}

// New builds a Coordinator. hooks wires the executor's post-commit
// config/cache effects.
func New(schemaDir, configDir string, db *sql.DB, reg *registry.Registry, hooks executor.Hooks, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		schemaDir:   schemaDir,
		configDir:   configDir,
		registry:    reg,
		db:          db,
		tracker:     versiontrack.New(db),
		executor:    executor.New(db, hooks, logger),
		logger:      logger,
		retryDelays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond},
	}
}

// Bootstrap performs the synchronous load_all on startup, §5: loads
// every entity/config file, replaces the registry's vectors wholesale,
// and ensures file_versions exists. It does not diff against a prior
// state — this is the first load.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	if err := c.tracker.EnsureSchema(ctx); err != nil {
		return err
	}
	result, err := loader.Load(c.schemaDir, c.configDir)
	if err != nil {
		return err
	}

	if err := c.registry.Replace(result.Entities, result.Configs); err != nil {
		return err
	}

	acts := make([]actions.Action, 0, len(result.Entities))
	for _, e := range result.Entities {
		as, err := actions.ForNewEntity(e)
		if err != nil {
			return err
		}
		acts = append(acts, as...)
	}

	report, err := c.executeWithRetry(ctx, acts, false)
	if err != nil {
		return err
	}
	c.logger.Info("bootstrap complete", "entities", len(result.Entities), "configs", len(result.Configs), "status", report.Status)
	return nil
}

// Reload handles a single watcher event for path: reloads the full
// declaration tree, diffs each entity/config against the current
// registry, generates and (subject to opts) executes the resulting
// action list, and records a new file_versions row.
func (c *Coordinator) Reload(ctx context.Context, path string, opts ReloadOptions) *ReloadReport {
	report := &ReloadReport{Path: path}

	oldVersion, err := c.tracker.NextVersion(ctx, path)
	if err != nil {
		report.Err = err
		return report
	}
	report.OldVersion = oldVersion - 1
	report.NewVersion = oldVersion

	result, err := loader.Load(c.schemaDir, c.configDir)
	if err != nil {
		report.Err = err
		return report
	}
	fileHash := result.FileHashes[path]

	var acts []actions.Action
	strongest := diff.Safe

	for _, newEntity := range result.Entities {
		old, err := c.registry.Entity(newEntity.ID)
		if err != nil {
			newActs, err := actions.ForNewEntity(newEntity)
			if err != nil {
				report.Err = err
				return report
			}
			acts = append(acts, newActs...)
			continue
		}
		d := diff.DiffEntity(old, newEntity)
		if d.IsEmpty() {
			continue
		}
		report.EntityDiffs = append(report.EntityDiffs, d)
		if d.Classification > strongest {
			strongest = d.Classification
		}
		entityActs, err := actions.ForEntityDiff(newEntity, d)
		if err != nil {
			report.Err = err
			return report
		}
		acts = append(acts, entityActs...)
	}

	stillPresent := make(map[string]bool, len(result.Entities))
	for _, e := range result.Entities {
		stillPresent[e.ID] = true
	}
	for _, existing := range c.registry.Entities() {
		if !stillPresent[existing.ID] {
			removedActs, err := actions.ForRemovedEntity(existing)
			if err != nil {
				report.Err = err
				return report
			}
			acts = append(acts, removedActs...)
			strongest = diff.Breaking
		}
	}

	for _, newCfg := range result.Configs {
		old, err := c.registry.Configuration(newCfg.ID)
		if err != nil {
			continue
		}
		d := diff.DiffConfig(old, newCfg)
		if d.IsEmpty() {
			continue
		}
		report.ConfigDiffs = append(report.ConfigDiffs, d)
		if d.Classification > strongest {
			strongest = d.Classification
		}
		acts = append(acts, actions.ForConfigDiff(d, newCfg.Values, old.Values))
	}

	report.Actions = acts
	report.Classification = strongest

	if strongest == diff.Breaking && !opts.AcceptBreaking {
		report.Err = errs.New(errs.Conflict, fmt.Sprintf("reload of %q contains a Breaking action and was not accepted", path), nil)
		_ = c.tracker.Record(ctx, versiontrack.Record{
			FilePath: path, FileHash: fileHash, Version: oldVersion, Status: versiontrack.StatusRolledBack, Timestamp: time.Now(),
		})
		return report
	}
	report.AcceptedBreaking = strongest == diff.Breaking

	execReport, err := c.executeWithRetry(ctx, acts, false)
	report.ExecutionReport = execReport
	if err != nil {
		report.Err = err
		var rollback []actions.Action
		if execReport != nil {
			rollback = execReport.RollbackActions
		}
		_ = c.tracker.Record(ctx, versiontrack.Record{
			FilePath: path, FileHash: fileHash, Version: oldVersion, Status: versiontrack.StatusRolledBack, Timestamp: time.Now(),
			AppliedActions: acts, RollbackActions: rollback,
		})
		return report
	}

	if err := c.registry.Replace(result.Entities, result.Configs); err != nil {
		report.Err = err
		return report
	}

	_ = c.tracker.Record(ctx, versiontrack.Record{
		FilePath: path, FileHash: fileHash, Version: oldVersion, Status: versiontrack.StatusApplied, Timestamp: time.Now(),
		AppliedActions: acts,
	})
	return report
}

// executeWithRetry retries only Storage{retryable:true} failures, at
// most twice, waiting 100ms then 500ms (the delays set in New), per spec §7.
func (c *Coordinator) executeWithRetry(ctx context.Context, acts []actions.Action, dryRun bool) (*executor.Report, error) {
	var lastErr error
	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		report, err := c.executor.Execute(ctx, acts, dryRun)
		if err == nil {
			return report, nil
		}
		lastErr = err
		var typed *errs.Error
		if !errors.As(err, &typed) || typed.Kind != errs.Storage || !typed.Retryable {
			return report, err
		}
		if attempt < len(c.retryDelays) {
			select {
			case <-time.After(c.retryDelays[attempt]):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// RunWatching starts the file watcher and calls Reload for every
// forwarded event until ctx is cancelled.
func (c *Coordinator) RunWatching(ctx context.Context, w *watcher.Watcher, opts ReloadOptions) error {
	if err := w.Run(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			report := c.Reload(ctx, ev.Path, opts)
			if report.Err != nil {
				c.logger.Warn("reload failed", "path", ev.Path, "error", report.Err)
			} else {
				c.logger.Info("reload applied", "path", ev.Path, "classification", report.Classification)
			}
		}
	}
}
