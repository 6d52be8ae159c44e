package store

import (
	"context"
	"errors"
	"time"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// DefaultAuditCapacity is the number of audit entries a backend retains.
const DefaultAuditCapacity = 1000

var (
	// ErrVersionConflict is returned by Commit when the stored settings version
	// no longer matches the version the caller read.
	ErrVersionConflict = errors.New("settings version changed since read")
)

// Backend persists the settings blob and the audit log. Implementations
// must apply a Commit or Replace as a single step: either the settings and
// the audit entry are both stored or neither is.
type Backend interface {
	// LoadSettings returns found=false when nothing has been stored yet.
	LoadSettings(ctx context.Context) (s types.Settings, found bool, err error)

	// Initialize stores s only if no settings exist yet.
	Initialize(ctx context.Context, s types.Settings) error

	// Commit stores next if the stored version equals expected, then
	// appends entry to the head of the audit log.
	Commit(ctx context.Context, expected int64, next types.Settings, entry types.AuditEntry) error

	// Replace overwrites the settings unconditionally. A non-nil audit
	// (newest first) replaces the whole log before entry is appended.
	Replace(ctx context.Context, next types.Settings, audit []types.AuditEntry, entry types.AuditEntry) error

	// ListAudit returns up to limit entries, newest first.
	ListAudit(ctx context.Context, limit int) ([]types.AuditEntry, error)

	// PruneAuditOlderThan drops entries with a timestamp before cutoff.
	PruneAuditOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
}

// Directory is the external source of truth for which entities exist.
type Directory interface {
	List(ctx context.Context) ([]types.Entity, error)
	Get(ctx context.Context, id types.EntityID) (types.Entity, bool, error)
}
