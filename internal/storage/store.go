// Package storage implements the Entity Storage Engine, §4.J: CRUD
// over dynamically-named tables, copy-on-write revisioning, and
// content-hash maintenance. The transaction discipline for the
// archive-then-update atomicity requirement is grounded on the
// teacher's applyWithTransaction pattern (internal/apply/apply.go in
// the teacher, also the basis of internal/executor); the
// table shapes come from internal/entities.Plan.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"contentd/internal/entities"
	"contentd/internal/errs"
	"contentd/internal/fields"
	"contentd/internal/idgen"
)

// Store owns the database connection pool and executes parameterized
// DML against tables the Action Executor has already materialized.
type Store struct {
	db    *sql.DB
	ids   *idgen.Generator
	now   func() time.Time
	audit AuditRecorder
	cache CacheInvalidator
}

// Option configures a Store.
type Option func(*Store)

// WithAudit wires an audit sink; defaults to a no-op.
func WithAudit(a AuditRecorder) Option { return func(s *Store) { s.audit = a } }

// WithCache wires a cache invalidator; defaults to a no-op.
func WithCache(c CacheInvalidator) Option { return func(s *Store) { s.cache = c } }

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New builds a Store over db.
func New(db *sql.DB, ids *idgen.Generator, opts ...Option) *Store {
	s := &Store{db: db, ids: ids, now: time.Now, audit: noopAudit{}, cache: noopCache{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func cacheKey(entityID, id string) string { return entityID + ":" + id }

// Create allocates a new id, computes content_hash over the
// user-visible values, inserts the parent row and any unbounded-field
// side rows, and emits an audit record, per §4.J.
func (s *Store) Create(ctx context.Context, e *entities.Entity, values map[string]any, multi map[string][]any, actor string) (string, error) {
	if err := validateValues(e, values, multi); err != nil {
		return "", err
	}
	hash, err := contentHash(values, multi)
	if err != nil {
		return "", err
	}

	id := s.ids.NewNow()
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errs.StorageErr(err, true, "begin create transaction")
	}
	defer tx.Rollback()

	cols, specs, err := scalarColumnsAndValues(e, values)
	if err != nil {
		return "", err
	}
	table := entities.ContentTable(e.ID)
	allCols := append([]string{"id", "user", "content_hash", "rid", "created_at", "updated_at"}, cols...)
	placeholders := strings.TrimRight(strings.Repeat("?,", len(allCols)), ",")
	args := append([]any{id, actor, hash, 1, now, now}, specs...)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), quoteIdents(allCols), placeholders)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", errs.StorageErr(err, false, "insert into "+table)
	}

	for _, f := range e.SideTableFields() {
		if err := s.insertSideRows(ctx, tx, e, f, id, actor, hash, now, multi[f.ID]); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errs.StorageErr(err, false, "commit create transaction")
	}

	_ = s.audit.Record(ctx, actor, "create", cacheKey(e.ID, id), map[string]any{"fields": values})
	return id, nil
}

func (s *Store) insertSideRows(ctx context.Context, tx *sql.Tx, e *entities.Entity, f *fields.Field, parentID, actor, hash string, now time.Time, values []any) error {
	table := entities.SideTable(e.ID, f.ID)
	for i, v := range values {
		rowID := s.ids.NewNow()
		query := fmt.Sprintf(`INSERT INTO %s (id, parent_id, %s, sort_order, user, content_hash, rid, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, quoteIdent(table), quoteIdent(fields.SideTableValueColumn))
		if _, err := tx.ExecContext(ctx, query, rowID, parentID, v, i, actor, hash, 1, now, now); err != nil {
			return errs.StorageErr(err, false, "insert side row into "+table)
		}
	}
	return nil
}

// Read fetches the parent row and every unbounded field's side rows,
// assembling the logical record, §4.J.
func (s *Store) Read(ctx context.Context, e *entities.Entity, id string) (*Record, error) {
	return s.readFrom(ctx, e, entities.ContentTable(e.ID), id, sideTableNamerLive(e))
}

func sideTableNamerLive(e *entities.Entity) func(fieldID string) string {
	return func(fieldID string) string { return entities.SideTable(e.ID, fieldID) }
}

func (s *Store) readFrom(ctx context.Context, e *entities.Entity, table, id string, sideTable func(string) string) (*Record, error) {
	specs, err := e.ScalarColumnSpecs()
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(specs))
	for _, c := range specs {
		cols = append(cols, c.DottedID)
	}
	selectCols := append([]string{"id", "rid", "user", "content_hash", "last_cached", "cache_ttl", "created_at", "updated_at"}, cols...)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", quoteIdents(selectCols), quoteIdent(table))
	row := s.db.QueryRowContext(ctx, query, id)

	rec := &Record{Fields: map[string]any{}, Multi: map[string][]any{}}
	dest := make([]any, len(selectCols))
	dest[0] = &rec.ID
	dest[1] = &rec.RID
	dest[2] = &rec.User
	dest[3] = &rec.ContentHash
	var lastCached sql.NullTime
	dest[4] = &lastCached
	dest[5] = &rec.CacheTTL
	dest[6] = &rec.CreatedAt
	dest[7] = &rec.UpdatedAt
	values := make([]any, len(cols))
	for i := range cols {
		dest[8+i] = &values[i]
	}

	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.New(errs.NotFound, fmt.Sprintf("%s:%s not found", e.ID, id), nil)
		}
		return nil, errs.StorageErr(err, true, "read "+table)
	}
	if lastCached.Valid {
		rec.LastCached = &lastCached.Time
	}
	for i, c := range cols {
		rec.Fields[c] = values[i]
	}

	for _, f := range e.SideTableFields() {
		rows, err := s.readSideRows(ctx, sideTable(f.ID), id)
		if err != nil {
			return nil, err
		}
		rec.Multi[f.ID] = rows
	}

	return rec, nil
}

func (s *Store) readSideRows(ctx context.Context, table, parentID string) ([]any, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE parent_id = ? ORDER BY sort_order ASC`,
		quoteIdent(fields.SideTableValueColumn), quoteIdent(table))
	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, errs.StorageErr(err, true, "read side table "+table)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, errs.StorageErr(err, false, "scan side row from "+table)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// List returns up to limit records starting at offset, ordered by id.
func (s *Store) List(ctx context.Context, e *entities.Entity, limit, offset int) ([]string, error) {
	table := entities.ContentTable(e.ID)
	query := fmt.Sprintf("SELECT id FROM %s ORDER BY id ASC LIMIT ? OFFSET ?", quoteIdent(table))
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errs.StorageErr(err, true, "list "+table)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.StorageErr(err, false, "scan id from "+table)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Update implements the copy-on-write revisioning contract of §4.J:
// compute the new hash; short-circuit if unchanged; otherwise (when
// versioned) archive the current row before updating it, all within
// one transaction, then invalidate the cache and emit an audit record.
func (s *Store) Update(ctx context.Context, e *entities.Entity, id string, values map[string]any, multi map[string][]any, actor string) error {
	if err := validateValues(e, values, multi); err != nil {
		return err
	}
	newHash, err := contentHash(values, multi)
	if err != nil {
		return err
	}

	current, err := s.Read(ctx, e, id)
	if err != nil {
		return err
	}
	if current.ContentHash == newHash {
		return nil // §8 property 7: no-op update touches nothing
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.StorageErr(err, true, "begin update transaction")
	}
	defer tx.Rollback()

	if e.Versioned {
		if err := s.archiveCurrent(ctx, tx, e, id, current); err != nil {
			return err
		}
	}

	cols, specs, err := scalarColumnsAndValues(e, values)
	if err != nil {
		return err
	}
	setClauses := make([]string, 0, len(cols)+4)
	args := make([]any, 0, len(cols)+4)
	for i, c := range cols {
		setClauses = append(setClauses, quoteIdent(c)+" = ?")
		args = append(args, specs[i])
	}
	setClauses = append(setClauses, "rid = ?", "content_hash = ?", "updated_at = ?")
	args = append(args, current.RID+1, newHash, now, id)

	table := entities.ContentTable(e.ID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quoteIdent(table), strings.Join(setClauses, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errs.StorageErr(err, false, "update "+table)
	}

	for _, f := range e.SideTableFields() {
		if err := s.replaceSideRows(ctx, tx, e, f, id, actor, newHash, now, multi[f.ID]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.StorageErr(err, false, "commit update transaction")
	}

	_ = s.cache.Delete(ctx, cacheKey(e.ID, id))
	_ = s.audit.Record(ctx, actor, "update", cacheKey(e.ID, id), map[string]any{"fields": values})
	return nil
}

func (s *Store) archiveCurrent(ctx context.Context, tx *sql.Tx, e *entities.Entity, id string, current *Record) error {
	revTable := entities.RevisionsTable(e.ID)
	specs, err := e.ScalarColumnSpecs()
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(specs))
	vals := make([]any, 0, len(specs))
	for _, sp := range specs {
		cols = append(cols, sp.DottedID)
		vals = append(vals, current.Fields[sp.DottedID])
	}
	allCols := append([]string{"id", "rid", "user", "content_hash", "created_at", "updated_at"}, cols...)
	args := append([]any{current.ID, current.RID, current.User, current.ContentHash, current.CreatedAt, current.UpdatedAt}, vals...)
	placeholders := strings.TrimRight(strings.Repeat("?,", len(allCols)), ",")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(revTable), quoteIdents(allCols), placeholders)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errs.StorageErr(err, false, "archive into "+revTable)
	}

	for _, f := range e.SideTableFields() {
		srcTable := entities.SideTable(e.ID, f.ID)
		dstTable := entities.FieldRevisionsTable(e.ID, f.ID)
		rows, err := s.readSideRows(ctx, srcTable, id)
		if err != nil {
			return err
		}
		for i, v := range rows {
			rowID := s.ids.NewNow()
			q := fmt.Sprintf(`INSERT INTO %s (id, parent_id, %s, sort_order, rid, user, content_hash, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, quoteIdent(dstTable), quoteIdent(fields.SideTableValueColumn))
			if _, err := tx.ExecContext(ctx, q, rowID, id, v, i, current.RID, current.User, current.ContentHash, current.CreatedAt, current.UpdatedAt); err != nil {
				return errs.StorageErr(err, false, "archive side row into "+dstTable)
			}
		}
	}
	return nil
}

func (s *Store) replaceSideRows(ctx context.Context, tx *sql.Tx, e *entities.Entity, f *fields.Field, parentID, actor, hash string, now time.Time, values []any) error {
	table := entities.SideTable(e.ID, f.ID)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE parent_id = ?", quoteIdent(table)), parentID); err != nil {
		return errs.StorageErr(err, false, "clear side table "+table)
	}
	for i, v := range values {
		rowID := s.ids.NewNow()
		q := fmt.Sprintf(`INSERT INTO %s (id, parent_id, %s, sort_order, user, content_hash, rid, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, quoteIdent(table), quoteIdent(fields.SideTableValueColumn))
		if _, err := tx.ExecContext(ctx, q, rowID, parentID, v, i, actor, hash, 1, now, now); err != nil {
			return errs.StorageErr(err, false, "insert side row into "+table)
		}
	}
	return nil
}

// Delete removes the parent and side rows atomically, invalidates the
// cache, and emits an audit record, §4.J.
func (s *Store) Delete(ctx context.Context, e *entities.Entity, id, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.StorageErr(err, true, "begin delete transaction")
	}
	defer tx.Rollback()

	for _, f := range e.SideTableFields() {
		table := entities.SideTable(e.ID, f.ID)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE parent_id = ?", quoteIdent(table)), id); err != nil {
			return errs.StorageErr(err, false, "delete side rows from "+table)
		}
	}

	table := entities.ContentTable(e.ID)
	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(table)), id)
	if err != nil {
		return errs.StorageErr(err, false, "delete from "+table)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.NotFound, fmt.Sprintf("%s:%s not found", e.ID, id), nil)
	}

	if err := tx.Commit(); err != nil {
		return errs.StorageErr(err, false, "commit delete transaction")
	}

	_ = s.cache.Delete(ctx, cacheKey(e.ID, id))
	_ = s.audit.Record(ctx, actor, "delete", cacheKey(e.ID, id), nil)
	return nil
}

// ReadRevision serves the live row when rid equals the current rid,
// otherwise fetches from the revisions tables, §4.J.
func (s *Store) ReadRevision(ctx context.Context, e *entities.Entity, id string, rid int) (*Record, error) {
	current, err := s.Read(ctx, e, id)
	if err != nil {
		return nil, err
	}
	if current.RID == rid {
		return current, nil
	}
	if !e.Versioned {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("%s:%s has no revisions", e.ID, id), nil)
	}

	revTable := entities.RevisionsTable(e.ID)
	specs, err := e.ScalarColumnSpecs()
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(specs))
	for _, c := range specs {
		cols = append(cols, c.DottedID)
	}
	selectCols := append([]string{"id", "rid", "user", "content_hash", "created_at", "updated_at"}, cols...)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND rid = ?", quoteIdents(selectCols), quoteIdent(revTable))
	row := s.db.QueryRowContext(ctx, query, id, rid)

	rec := &Record{Fields: map[string]any{}, Multi: map[string][]any{}}
	dest := make([]any, len(selectCols))
	dest[0] = &rec.ID
	dest[1] = &rec.RID
	dest[2] = &rec.User
	dest[3] = &rec.ContentHash
	dest[4] = &rec.CreatedAt
	dest[5] = &rec.UpdatedAt
	values := make([]any, len(cols))
	for i := range cols {
		dest[6+i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.New(errs.NotFound, fmt.Sprintf("%s:%s rid=%d not found", e.ID, id, rid), nil)
		}
		return nil, errs.StorageErr(err, true, "read revision from "+revTable)
	}
	for i, c := range cols {
		rec.Fields[c] = values[i]
	}
	for _, f := range e.SideTableFields() {
		rows, err := s.readRevisionSideRows(ctx, entities.FieldRevisionsTable(e.ID, f.ID), id, rid)
		if err != nil {
			return nil, err
		}
		rec.Multi[f.ID] = rows
	}
	return rec, nil
}

func (s *Store) readRevisionSideRows(ctx context.Context, table, parentID string, rid int) ([]any, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE parent_id = ? AND rid = ? ORDER BY sort_order ASC`,
		quoteIdent(fields.SideTableValueColumn), quoteIdent(table))
	rows, err := s.db.QueryContext(ctx, query, parentID, rid)
	if err != nil {
		return nil, errs.StorageErr(err, true, "read revision side table "+table)
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, errs.StorageErr(err, false, "scan revision side row from "+table)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListRevisions returns every rid recorded for id, ascending, §4.J.
func (s *Store) ListRevisions(ctx context.Context, e *entities.Entity, id string) ([]int, error) {
	if !e.Versioned {
		return nil, nil
	}
	revTable := entities.RevisionsTable(e.ID)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT rid FROM %s WHERE id = ? ORDER BY rid ASC", quoteIdent(revTable)), id)
	if err != nil {
		return nil, errs.StorageErr(err, true, "list revisions from "+revTable)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var rid int
		if err := rows.Scan(&rid); err != nil {
			return nil, errs.StorageErr(err, false, "scan rid from "+revTable)
		}
		out = append(out, rid)
	}
	return out, rows.Err()
}

func validateValues(e *entities.Entity, values map[string]any, multi map[string][]any) error {
	for _, f := range e.Fields {
		if err := validateField(f, "", values, multi); err != nil {
			return err
		}
	}
	return nil
}

func validateField(f *fields.Field, prefix string, values map[string]any, multi map[string][]any) error {
	dotted := f.ID
	if prefix != "" {
		dotted = prefix + "." + f.ID
	}

	if f.IsSideTable() {
		for _, v := range multi[f.ID] {
			if err := f.ValidateValue(v); err != nil {
				return errs.New(errs.InvalidField, dotted+": "+err.Error(), nil)
			}
		}
		return nil
	}

	if f.Kind == fields.KindComponent {
		for _, sub := range f.Fields {
			if err := validateField(sub, dotted, values, multi); err != nil {
				return err
			}
		}
		return nil
	}

	if v, ok := values[dotted]; ok {
		if err := f.ValidateValue(v); err != nil {
			return errs.New(errs.InvalidField, dotted+": "+err.Error(), nil)
		}
	} else if f.Required {
		return errs.New(errs.InvalidField, dotted+" is required", nil)
	}
	return nil
}

func scalarColumnsAndValues(e *entities.Entity, values map[string]any) ([]string, []any, error) {
	specs, err := e.ScalarColumnSpecs()
	if err != nil {
		return nil, nil, err
	}
	cols := make([]string, 0, len(specs))
	args := make([]any, 0, len(specs))
	for _, sp := range specs {
		cols = append(cols, sp.DottedID)
		args = append(args, values[sp.DottedID])
	}
	return cols, args, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return strings.Join(out, ", ")
}
