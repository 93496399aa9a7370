package storage

import "context"

// AuditRecorder is the narrow slice of the audit log the storage
// engine needs. Defined locally (rather than importing
// internal/audit directly) so storage stays the dependency leaf §3.8
// describes: "the Storage Engine... owns the database connection
// pool" and nothing else.
type AuditRecorder interface {
	Record(ctx context.Context, actor, action, target string, detail map[string]any) error
}

// CacheInvalidator is the narrow slice of the JSON cache the storage
// engine needs to invalidate on write.
type CacheInvalidator interface {
	Delete(ctx context.Context, key string) error
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, string, string, string, map[string]any) error { return nil }

type noopCache struct{}

func (noopCache) Delete(context.Context, string) error { return nil }
