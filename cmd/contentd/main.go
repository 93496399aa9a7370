// Package main contains the cli implementation of the tool. It uses
// cobra for cli command structure, following the same root-command/
// sub-command split as smf's CLI.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"contentd/internal/audit"
	"contentd/internal/cache"
	"contentd/internal/config"
	"contentd/internal/coordinator"
	"contentd/internal/diff"
	"contentd/internal/entities"
	"contentd/internal/executor"
	"contentd/internal/idgen"
	"contentd/internal/loader"
	"contentd/internal/logging"
	"contentd/internal/paths"
	"contentd/internal/registry"
	"contentd/internal/storage"
	"contentd/internal/watcher"
)

type serveFlags struct {
	acceptBreaking bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "contentd",
		Short: "Headless, schema-driven content management engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(contentCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap the registry and watch schema/config directories for changes",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}
	cmd.Flags().BoolVar(&flags.acceptBreaking, "accept-breaking", false, "allow hot-reloads that contain breaking changes")
	return cmd
}

func runServe(flags *serveFlags) error {
	bundle, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	cfg := config.Load()

	logCfg := logging.Config{
		Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output,
		Filename: cfg.Log.Filename, MaxSize: cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups, MaxAge: cfg.Log.MaxAgeDays, Compress: cfg.Log.Compress,
	}
	logger := logging.New(logCfg)

	if err := os.MkdirAll(bundle.DataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := openDB(bundle, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ids := idgen.NewGenerator()

	auditLog, err := audit.Open(bundle.AuditLogPath(), ids, audit.WithRotateThreshold(cfg.Audit.RotateThresholdBytes))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	jsonCache, err := cache.Open(bundle.JSONCachePath())
	if err != nil {
		return fmt.Errorf("opening json cache: %w", err)
	}
	defer jsonCache.Close()

	reg := registry.New()
	hooks := executor.Hooks{
		InvalidateCache: func(entityID string) error {
			return jsonCache.DeletePrefix(context.Background(), entityID+":")
		},
	}
	c := coordinator.New(bundle.EntitySchemaPath, bundle.ConfigurationPath, db, reg, hooks, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("bootstrapping registry", "schema_dir", bundle.EntitySchemaPath, "config_dir", bundle.ConfigurationPath)
	if err := c.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	w := watcher.New([]string{bundle.EntitySchemaPath, bundle.ConfigurationPath}, loader.IsRelevantFile, logger)

	logger.Info("watching for changes", "accept_breaking", flags.acceptBreaking)
	err = c.RunWatching(ctx, w, coordinator.ReloadOptions{AcceptBreaking: flags.acceptBreaking})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openDB(bundle *paths.Bundle, cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", bundle.ContentDBPath(), cfg.DB.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening content database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func reloadCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Run a single load/diff/apply cycle against the current schema and configuration directories",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runReload(flags)
		},
	}
	cmd.Flags().BoolVar(&flags.acceptBreaking, "accept-breaking", false, "allow this reload even if it contains breaking changes")
	return cmd
}

func runReload(flags *serveFlags) error {
	bundle, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	logger := logging.New(logging.Config{Level: "info", Format: "json", Output: "stdout"})
	cfg := config.Load()

	db, err := openDB(bundle, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New()
	c := coordinator.New(bundle.EntitySchemaPath, bundle.ConfigurationPath, db, reg, executor.Hooks{}, logger)
	if err := c.Bootstrap(context.Background()); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	report := c.Reload(context.Background(), bundle.EntitySchemaPath, coordinator.ReloadOptions{AcceptBreaking: flags.acceptBreaking})
	if report.Err != nil {
		return report.Err
	}
	fmt.Printf("reload applied: %d entity diffs, %d config diffs, classification=%s\n",
		len(report.EntityDiffs), len(report.ConfigDiffs), report.Classification)
	return nil
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and compare entity/configuration declarations",
	}
	cmd.AddCommand(schemaDiffCmd())
	return cmd
}

func schemaDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <dir-a> <dir-b>",
		Short: "Compare two schema/config directory snapshots entity by entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSchemaDiff(args[0], args[1])
		},
	}
	return cmd
}

func runSchemaDiff(dirA, dirB string) error {
	resA, err := loader.Load(dirA, dirA)
	if err != nil {
		return fmt.Errorf("loading %s: %w", dirA, err)
	}
	resB, err := loader.Load(dirB, dirB)
	if err != nil {
		return fmt.Errorf("loading %s: %w", dirB, err)
	}

	byID := make(map[string]*entityRef, len(resA.Entities)+len(resB.Entities))
	for _, e := range resA.Entities {
		byID[e.ID] = &entityRef{old: e}
	}
	for _, e := range resB.Entities {
		ref, ok := byID[e.ID]
		if !ok {
			byID[e.ID] = &entityRef{new: e}
			continue
		}
		ref.new = e
	}

	found := false
	for id, ref := range byID {
		switch {
		case ref.old == nil:
			fmt.Printf("%s: added\n", id)
			found = true
		case ref.new == nil:
			fmt.Printf("%s: removed (breaking)\n", id)
			found = true
		default:
			d := diff.DiffEntity(ref.old, ref.new)
			if d.IsEmpty() {
				continue
			}
			found = true
			fmt.Printf("%s: %s\n", id, d.Classification)
			for _, ch := range d.Changes {
				fmt.Printf("  %s: %s (%v -> %v) [%s]\n", ch.Path, ch.Kind, ch.Old, ch.New, ch.Classification)
			}
		}
	}
	if !found {
		fmt.Println("no differences")
	}
	return nil
}

type entityRef struct {
	old, new *entities.Entity
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the hash-chained audit log",
	}
	cmd.AddCommand(auditVerifyCmd())
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Verify the audit log's hash chain, including any rotated files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				bundle, err := paths.Resolve()
				if err != nil {
					return fmt.Errorf("resolving paths: %w", err)
				}
				path = bundle.AuditLogPath()
			}
			return runAuditVerify(path)
		},
	}
	return cmd
}

func runAuditVerify(path string) error {
	brokenFile, brokenIdx, err := audit.VerifySeries(path)
	if err != nil {
		return fmt.Errorf("verifying audit log: %w", err)
	}
	if brokenFile == "" {
		fmt.Println("audit log chain intact")
		return nil
	}
	fmt.Printf("chain broken in %s at record %d\n", brokenFile, brokenIdx)
	return fmt.Errorf("audit chain verification failed")
}

// runtime bundles everything content mutations need: a store wired
// against the registry's current entities, with the same audit/cache
// backends serve uses.
type runtime struct {
	db    *sql.DB
	reg   *registry.Registry
	audit *audit.Log
	cache *cache.Cache
	store *storage.Store
}

func (rt *runtime) Close() {
	rt.cache.Close()
	rt.audit.Close()
	rt.db.Close()
}

// openRuntime loads the current schema/config declarations into a
// fresh registry and opens a Store over them, without running the
// coordinator's DDL reconciliation — content commands assume `serve`
// or `reload` has already brought file_versions and the content
// tables up to date.
func openRuntime(bundle *paths.Bundle) (*runtime, error) {
	cfg := config.Load()

	db, err := openDB(bundle, cfg)
	if err != nil {
		return nil, err
	}

	ids := idgen.NewGenerator()

	auditLog, err := audit.Open(bundle.AuditLogPath(), ids, audit.WithRotateThreshold(cfg.Audit.RotateThresholdBytes))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	jsonCache, err := cache.Open(bundle.JSONCachePath())
	if err != nil {
		auditLog.Close()
		db.Close()
		return nil, fmt.Errorf("opening json cache: %w", err)
	}

	result, err := loader.Load(bundle.EntitySchemaPath, bundle.ConfigurationPath)
	if err != nil {
		jsonCache.Close()
		auditLog.Close()
		db.Close()
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	reg := registry.New()
	if err := reg.Replace(result.Entities, result.Configs); err != nil {
		jsonCache.Close()
		auditLog.Close()
		db.Close()
		return nil, err
	}

	store := storage.New(db, ids, storage.WithAudit(auditLog), storage.WithCache(jsonCache))
	return &runtime{db: db, reg: reg, audit: auditLog, cache: jsonCache, store: store}, nil
}

// contentPayload is the shape of the --data flag: the scalar field
// values plus any unbounded (side-table) field values, keyed by field
// id, matching storage.Store.Create/Update's (values, multi) split.
type contentPayload struct {
	Values map[string]any   `json:"values"`
	Multi  map[string][]any `json:"multi"`
}

func parsePayload(raw string) (*contentPayload, error) {
	p := &contentPayload{Values: map[string]any{}, Multi: map[string][]any{}}
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return nil, fmt.Errorf("parsing --data: %w", err)
	}
	return p, nil
}

func contentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Create, read, update, delete, and list entity records directly against storage",
	}
	cmd.AddCommand(contentCreateCmd())
	cmd.AddCommand(contentGetCmd())
	cmd.AddCommand(contentUpdateCmd())
	cmd.AddCommand(contentDeleteCmd())
	cmd.AddCommand(contentListCmd())
	return cmd
}

func contentCreateCmd() *cobra.Command {
	var data, actor string
	cmd := &cobra.Command{
		Use:   "create <entity-id>",
		Short: "Create a record for entity-id from --data JSON ({\"values\":{...},\"multi\":{...}})",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runContentCreate(args[0], data, actor)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON payload: {\"values\":{...},\"multi\":{...}}")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the audit entry")
	return cmd
}

func runContentCreate(entityID, data, actor string) error {
	bundle, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	rt, err := openRuntime(bundle)
	if err != nil {
		return err
	}
	defer rt.Close()

	e, err := rt.reg.Entity(entityID)
	if err != nil {
		return err
	}
	payload, err := parsePayload(data)
	if err != nil {
		return err
	}

	id, err := rt.store.Create(context.Background(), e, payload.Values, payload.Multi, actor)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func contentGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <entity-id> <id>",
		Short: "Read one record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runContentGet(args[0], args[1])
		},
	}
	return cmd
}

func runContentGet(entityID, id string) error {
	bundle, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	rt, err := openRuntime(bundle)
	if err != nil {
		return err
	}
	defer rt.Close()

	e, err := rt.reg.Entity(entityID)
	if err != nil {
		return err
	}
	rec, err := rt.store.Read(context.Background(), e, id)
	if err != nil {
		return err
	}
	enc, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func contentUpdateCmd() *cobra.Command {
	var data, actor string
	cmd := &cobra.Command{
		Use:   "update <entity-id> <id>",
		Short: "Update a record, archiving its current revision first",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runContentUpdate(args[0], args[1], data, actor)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON payload: {\"values\":{...},\"multi\":{...}}")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the audit entry")
	return cmd
}

func runContentUpdate(entityID, id, data, actor string) error {
	bundle, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	rt, err := openRuntime(bundle)
	if err != nil {
		return err
	}
	defer rt.Close()

	e, err := rt.reg.Entity(entityID)
	if err != nil {
		return err
	}
	payload, err := parsePayload(data)
	if err != nil {
		return err
	}
	return rt.store.Update(context.Background(), e, id, payload.Values, payload.Multi, actor)
}

func contentDeleteCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "delete <entity-id> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runContentDelete(args[0], args[1], actor)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the audit entry")
	return cmd
}

func runContentDelete(entityID, id, actor string) error {
	bundle, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	rt, err := openRuntime(bundle)
	if err != nil {
		return err
	}
	defer rt.Close()

	e, err := rt.reg.Entity(entityID)
	if err != nil {
		return err
	}
	return rt.store.Delete(context.Background(), e, id, actor)
}

func contentListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list <entity-id>",
		Short: "List record ids for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runContentList(args[0], limit, offset)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of ids to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of ids to skip")
	return cmd
}

func runContentList(entityID string, limit, offset int) error {
	bundle, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	rt, err := openRuntime(bundle)
	if err != nil {
		return err
	}
	defer rt.Close()

	e, err := rt.reg.Entity(entityID)
	if err != nil {
		return err
	}
	ids, err := rt.store.List(context.Background(), e, limit, offset)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
