package memory

import (
	"context"
	"sync"
	"time"

	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// Backend keeps settings and the audit log in process memory. It is intended
// for tests, dev environments, and single-process deployments where state
// does not need to survive a restart.
type Backend struct {
	mu       sync.RWMutex
	settings *types.Settings
	audit    *auditRing
}

func NewBackend(capacity int) *Backend {
	if capacity <= 0 {
		capacity = store.DefaultAuditCapacity
	}
	return &Backend{audit: newAuditRing(capacity)}
}

func (b *Backend) LoadSettings(_ context.Context) (types.Settings, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.settings == nil {
		return types.Settings{}, false, nil
	}
	return b.settings.Clone(), true, nil
}

func (b *Backend) Initialize(_ context.Context, s types.Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.settings == nil {
		c := s.Clone()
		b.settings = &c
	}
	return nil
}

func (b *Backend) Commit(_ context.Context, expected int64, next types.Settings, entry types.AuditEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var current int64
	if b.settings != nil {
		current = b.settings.Version
	}
	if current != expected {
		return store.ErrVersionConflict
	}

	c := next.Clone()
	b.settings = &c
	b.audit.push(entry)
	return nil
}

func (b *Backend) Replace(_ context.Context, next types.Settings, audit []types.AuditEntry, entry types.AuditEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := next.Clone()
	b.settings = &c
	if audit != nil {
		b.audit.reset(audit)
	}
	b.audit.push(entry)
	return nil
}

func (b *Backend) ListAudit(_ context.Context, limit int) ([]types.AuditEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.audit.newest(limit), nil
}

func (b *Backend) PruneAuditOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.audit.pruneBefore(cutoff), nil
}

func (b *Backend) Ping(_ context.Context) error { return nil }

// AuditLen reports how many entries are retained. Test-only helper.
func (b *Backend) AuditLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.audit.len()
}
