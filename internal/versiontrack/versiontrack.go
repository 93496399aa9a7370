// Package versiontrack implements the append-only file_versions log,
// per spec §3.5/§4.H: one row per successful or rolled-back apply,
// (file_path, version) unique, never pruned. Persistence to a DB table
// instead of a flat file generalizes the teacher's
// Migration.SaveToFile/SaveRollbackToFile idea (the teacher's
// internal/migration/migration.go) so uniqueness and
// lookup are native to the store rather than reimplemented on top of
// the filesystem.
package versiontrack

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"contentd/internal/actions"
	"contentd/internal/errs"
)

// Status is the lifecycle state of one version record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusRolledBack Status = "rolled_back"
)

// Record is one file_versions row.
type Record struct {
	FilePath        string
	Version         int
	FileHash        string
	Timestamp       time.Time
	AppliedActions  []actions.Action
	RollbackActions []actions.Action
	Status          Status
}

// Tracker owns the file_versions table.
type Tracker struct {
	db *sql.DB
}

// New wraps db. EnsureSchema must be called once before use.
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS file_versions (
	file_path TEXT NOT NULL,
	version INTEGER NOT NULL,
	file_hash TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	applied_actions TEXT NOT NULL,
	rollback_actions TEXT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (file_path, version)
)`

// EnsureSchema creates the file_versions table if it does not exist.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, createTableSQL); err != nil {
		return errs.StorageErr(err, false, "create file_versions table")
	}
	return nil
}

// NextVersion returns 1 + the highest recorded version for filePath,
// or 1 if none exist — versions are monotonically increasing per file
// path, §3.5.
func (t *Tracker) NextVersion(ctx context.Context, filePath string) (int, error) {
	var max sql.NullInt64
	row := t.db.QueryRowContext(ctx, `SELECT MAX(version) FROM file_versions WHERE file_path = ?`, filePath)
	if err := row.Scan(&max); err != nil {
		return 0, errs.StorageErr(err, true, "query max version")
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// Record writes one version row. (file_path, version) must be unique;
// a conflicting write surfaces as errs.Conflict.
func (t *Tracker) Record(ctx context.Context, r Record) error {
	appliedJSON, err := json.Marshal(r.AppliedActions)
	if err != nil {
		return errs.StorageErr(err, false, "marshal applied actions")
	}
	rollbackJSON, err := json.Marshal(r.RollbackActions)
	if err != nil {
		return errs.StorageErr(err, false, "marshal rollback actions")
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO file_versions (file_path, version, file_hash, ts, applied_actions, rollback_actions, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.FilePath, r.Version, r.FileHash, r.Timestamp, string(appliedJSON), string(rollbackJSON), string(r.Status))
	if err != nil {
		return errs.New(errs.Conflict, "file_versions insert conflict for "+r.FilePath, err)
	}
	return nil
}

// MarkRolledBack updates an existing pending/applied row to
// rolled_back, recording the rollback actions that were executed.
func (t *Tracker) MarkRolledBack(ctx context.Context, filePath string, version int, rollback []actions.Action) error {
	rollbackJSON, err := json.Marshal(rollback)
	if err != nil {
		return errs.StorageErr(err, false, "marshal rollback actions")
	}
	_, err = t.db.ExecContext(ctx,
		`UPDATE file_versions SET status = ?, rollback_actions = ? WHERE file_path = ? AND version = ?`,
		string(StatusRolledBack), string(rollbackJSON), filePath, version)
	if err != nil {
		return errs.StorageErr(err, true, "mark version rolled back")
	}
	return nil
}

// History returns every recorded version for filePath, oldest first.
// History is never pruned automatically, per §4.H.
func (t *Tracker) History(ctx context.Context, filePath string) ([]Record, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT file_path, version, file_hash, ts, applied_actions, rollback_actions, status
		FROM file_versions WHERE file_path = ? ORDER BY version ASC`, filePath)
	if err != nil {
		return nil, errs.StorageErr(err, true, "query file_versions history")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var appliedJSON, rollbackJSON, status string
		if err := rows.Scan(&r.FilePath, &r.Version, &r.FileHash, &r.Timestamp, &appliedJSON, &rollbackJSON, &status); err != nil {
			return nil, errs.StorageErr(err, false, "scan file_versions row")
		}
		r.Status = Status(status)
		if err := json.Unmarshal([]byte(appliedJSON), &r.AppliedActions); err != nil {
			return nil, errs.StorageErr(err, false, "unmarshal applied actions")
		}
		if err := json.Unmarshal([]byte(rollbackJSON), &r.RollbackActions); err != nil {
			return nil, errs.StorageErr(err, false, "unmarshal rollback actions")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
