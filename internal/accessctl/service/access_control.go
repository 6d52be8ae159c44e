package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/accessctl/types"
	"github.com/faredeal/accessctl/internal/metrics"
)

const (
	defaultAuditLimit = 50
	recentActionLimit = 10
	exportAuditLimit  = 100

	// maxBulkRecords bounds the bulk-operation history kept on Settings.
	maxBulkRecords = 100
)

// AccessControl holds the global access flag, per-entity overrides, and the
// audit trail, and notifies subscribers of every change.
//
// Mutations are serialized within the process. Across processes sharing a
// backend, each commit is a compare-and-swap on Settings.Version, so a
// concurrent writer gets ErrVersionConflict instead of silently losing an
// update.
type AccessControl struct {
	backend  store.Backend
	registry *EntityRegistry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	strict   bool

	mu sync.Mutex

	subs subscribers
}

// Option configures an AccessControl.
type Option func(*AccessControl)

// WithClock injects the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *AccessControl) {
		if now != nil {
			a.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *AccessControl) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *AccessControl) {
		a.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(a *AccessControl) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithStrictEntities makes mutations reject ids the directory does not know.
// Off by default so overrides can be provisioned ahead of the directory.
func WithStrictEntities(strict bool) Option {
	return func(a *AccessControl) {
		a.strict = strict
	}
}

func New(backend store.Backend, directory store.Directory, opts ...Option) *AccessControl {
	a := &AccessControl{
		backend:  backend,
		registry: NewEntityRegistry(directory),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/faredeal/accessctl/service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.subs.logger = a.logger
	a.subs.metrics = a.metrics
	return a
}

// Settings returns the current snapshot, initializing defaults on first use.
func (a *AccessControl) Settings(ctx context.Context) (types.Settings, error) {
	ctx, span := a.tracer.Start(ctx, "AccessControl.Settings")
	s, err := a.load(ctx)
	endSpan(span, err)
	return s, err
}

// ToggleGlobalAccess flips the master switch.
func (a *AccessControl) ToggleGlobalAccess(ctx context.Context, actor types.Actor) (types.Settings, error) {
	ctx, span := a.tracer.Start(ctx, "AccessControl.ToggleGlobalAccess",
		trace.WithAttributes(attribute.String("actor", actor.ID)))

	next, _, err := a.commit(ctx, types.ActionGlobalToggle, actor,
		func(s *types.Settings, _ time.Time) (types.AuditDetails, error) {
			s.GlobalAccessEnabled = !s.GlobalAccessEnabled
			status := "disabled"
			if s.GlobalAccessEnabled {
				status = "enabled"
			}
			return types.AuditDetails{GlobalStatus: status, AffectedUsers: "all_entities"}, nil
		})
	endSpan(span, err)
	if err != nil {
		return types.Settings{}, err
	}

	enabled := next.GlobalAccessEnabled
	a.publish(types.Event{
		Type:     types.EventGlobalAccessChanged,
		Enabled:  &enabled,
		Settings: settingsRef(next),
	})
	return next, nil
}

// SetEntityAccess writes an override for one entity.
func (a *AccessControl) SetEntityAccess(ctx context.Context, id types.EntityID, status types.Status, actor types.Actor) (types.Settings, error) {
	ctx, span := a.tracer.Start(ctx, "AccessControl.SetEntityAccess",
		trace.WithAttributes(
			attribute.String("entity_id", id),
			attribute.String("status", string(status)),
			attribute.String("actor", actor.ID),
		))

	next, err := a.setEntityAccess(ctx, id, status, actor)
	endSpan(span, err)
	if err != nil {
		return types.Settings{}, err
	}

	a.publish(types.Event{
		Type:     types.EventIndividualAccessChanged,
		EntityID: strings.TrimSpace(id),
		Status:   status,
		Settings: settingsRef(next),
	})
	return next, nil
}

func (a *AccessControl) setEntityAccess(ctx context.Context, id types.EntityID, status types.Status, actor types.Actor) (types.Settings, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Settings{}, ErrInvalidEntityID
	}
	if !status.Valid() {
		return types.Settings{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := a.checkKnown(ctx, id); err != nil {
		return types.Settings{}, err
	}

	next, _, err := a.commit(ctx, types.ActionIndividualToggle, actor,
		func(s *types.Settings, now time.Time) (types.AuditDetails, error) {
			previous := types.StatusActive
			if o, ok := s.Overrides[id]; ok {
				previous = o.Status
			}
			s.Overrides[id] = types.Override{Status: status, UpdatedAt: now, UpdatedBy: actor.ID}
			return types.AuditDetails{EntityID: id, NewStatus: status, PreviousStatus: previous}, nil
		})
	return next, err
}

// BulkUpdate applies the same override to every id. Duplicate and blank ids
// are dropped; AffectedCount is the number of distinct ids written. Unlike
// the web client, an empty id set is an error (ErrNoEntities) and writes no
// BULK_OPERATION entry.
func (a *AccessControl) BulkUpdate(ctx context.Context, op types.BulkOperationKind, ids []types.EntityID, actor types.Actor, reason string) (types.BulkResult, error) {
	ctx, span := a.tracer.Start(ctx, "AccessControl.BulkUpdate",
		trace.WithAttributes(
			attribute.String("operation", string(op)),
			attribute.Int("requested", len(ids)),
			attribute.String("actor", actor.ID),
		))

	result, err := a.bulkUpdate(ctx, op, ids, actor, reason)
	endSpan(span, err)
	if err != nil {
		return types.BulkResult{}, err
	}

	a.publish(types.Event{
		Type:          types.EventBulkOperationCompleted,
		Operation:     op,
		AffectedCount: result.AffectedCount,
	})
	return result, nil
}

func (a *AccessControl) bulkUpdate(ctx context.Context, op types.BulkOperationKind, ids []types.EntityID, actor types.Actor, reason string) (types.BulkResult, error) {
	if !op.Valid() {
		return types.BulkResult{}, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	distinct := dedupeIDs(ids)
	if len(distinct) == 0 {
		return types.BulkResult{}, ErrNoEntities
	}
	for _, id := range distinct {
		if err := a.checkKnown(ctx, id); err != nil {
			return types.BulkResult{}, err
		}
	}

	reason = strings.TrimSpace(reason)
	var record types.BulkOperation
	_, _, err := a.commit(ctx, types.ActionBulkOperation, actor,
		func(s *types.Settings, now time.Time) (types.AuditDetails, error) {
			status := op.Status()
			for _, id := range distinct {
				s.Overrides[id] = types.Override{Status: status, UpdatedAt: now, UpdatedBy: actor.ID}
			}

			record = types.BulkOperation{
				ID:          newID("bulk_"),
				Operation:   op,
				EntityIDs:   distinct,
				Reason:      reason,
				Timestamp:   now,
				PerformedBy: actor.ID,
			}
			s.BulkOperations = append(s.BulkOperations, record)
			if n := len(s.BulkOperations); n > maxBulkRecords {
				s.BulkOperations = append([]types.BulkOperation(nil), s.BulkOperations[n-maxBulkRecords:]...)
			}

			return types.AuditDetails{
				Operation:        op,
				AffectedEntities: len(distinct),
				EntityIDs:        distinct,
				Reason:           reason,
			}, nil
		})
	if err != nil {
		return types.BulkResult{}, err
	}

	return types.BulkResult{Success: true, AffectedCount: len(distinct), Operation: record}, nil
}

// EffectiveStatus reports the status an entity currently resolves to.
func (a *AccessControl) EffectiveStatus(ctx context.Context, id types.EntityID) (types.EffectiveStatus, error) {
	s, err := a.load(ctx)
	if err != nil {
		return "", err
	}
	return s.EffectiveStatus(strings.TrimSpace(id)), nil
}

// HasAccess is true only when the entity's effective status is active.
func (a *AccessControl) HasAccess(ctx context.Context, id types.EntityID) (bool, error) {
	st, err := a.EffectiveStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return st == types.EffectiveActive, nil
}

// AuditLog returns up to limit entries, newest first. limit <= 0 means 50.
func (a *AccessControl) AuditLog(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	entries, err := a.backend.ListAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list audit: %w", ErrPersistence, err)
	}
	return entries, nil
}

// Reset restores default settings and clears the audit log, leaving only
// the reset entry itself.
func (a *AccessControl) Reset(ctx context.Context, actor types.Actor) (types.Settings, error) {
	ctx, span := a.tracer.Start(ctx, "AccessControl.Reset")
	next, err := a.replace(ctx, types.ActionReset, actor, nil, []types.AuditEntry{}, types.AuditDetails{})
	endSpan(span, err)
	if err != nil {
		return types.Settings{}, err
	}

	a.publish(types.Event{Type: types.EventConfigurationReset, Settings: settingsRef(next)})
	return next, nil
}

// Ping checks the backend round trip.
func (a *AccessControl) Ping(ctx context.Context) types.PingResult {
	start := time.Now()
	err := a.backend.Ping(ctx)
	res := types.PingResult{
		Connected: err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
		Version:   types.ExportFormatVersion,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// NotifyDirectoryReloaded tells subscribers the entity directory changed.
func (a *AccessControl) NotifyDirectoryReloaded(count int) {
	a.publish(types.Event{Type: types.EventDirectoryReloaded, AffectedCount: count})
}

// load reads the settings, storing defaults first if the backend is empty.
func (a *AccessControl) load(ctx context.Context) (types.Settings, error) {
	s, found, err := a.backend.LoadSettings(ctx)
	if err != nil {
		return types.Settings{}, fmt.Errorf("%w: load settings: %w", ErrPersistence, err)
	}
	if found {
		s.Normalize()
		return s, nil
	}

	if err := a.backend.Initialize(ctx, types.DefaultSettings(a.now())); err != nil {
		return types.Settings{}, fmt.Errorf("%w: initialize settings: %w", ErrPersistence, err)
	}
	s, found, err = a.backend.LoadSettings(ctx)
	if err != nil {
		return types.Settings{}, fmt.Errorf("%w: load settings: %w", ErrPersistence, err)
	}
	if !found {
		return types.Settings{}, fmt.Errorf("%w: settings missing after initialize", ErrPersistence)
	}
	s.Normalize()
	return s, nil
}

type applyFn func(s *types.Settings, now time.Time) (types.AuditDetails, error)

// commit runs one read-modify-write cycle: apply mutates a copy of the
// current settings, the version is bumped, and the settings and a single
// audit entry are committed together.
func (a *AccessControl) commit(ctx context.Context, action types.AuditAction, actor types.Actor, apply applyFn) (types.Settings, types.AuditEntry, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return types.Settings{}, types.AuditEntry{}, ErrInvalidActor
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.load(ctx)
	if err != nil {
		a.recordFailure(action, "load")
		return types.Settings{}, types.AuditEntry{}, err
	}

	now := a.now()
	next := current.Clone()
	details, err := apply(&next, now)
	if err != nil {
		return types.Settings{}, types.AuditEntry{}, err
	}
	next.Version = current.Version + 1
	next.LastUpdated = now

	entry := newAuditEntry(action, details, actor, now)
	if err := a.backend.Commit(ctx, current.Version, next, entry); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			a.recordFailure(action, "conflict")
			a.logger.Warn("access-control write lost a version race",
				zap.String("action", string(action)),
				zap.Int64("expected_version", current.Version))
			return types.Settings{}, types.AuditEntry{}, err
		}
		a.recordFailure(action, "persistence")
		a.logger.Error("access-control commit failed",
			zap.String("action", string(action)),
			zap.Error(err))
		return types.Settings{}, types.AuditEntry{}, fmt.Errorf("%w: commit %s: %w", ErrPersistence, action, err)
	}

	a.recordSuccess(action, next)
	a.logger.Info("access-control updated",
		zap.String("action", string(action)),
		zap.String("actor", actor.ID),
		zap.Int64("version", next.Version))
	return next, entry, nil
}

// replace overwrites the whole store unconditionally. A nil settings means
// defaults; a nil audit keeps the existing log.
func (a *AccessControl) replace(ctx context.Context, action types.AuditAction, actor types.Actor, settings *types.Settings, audit []types.AuditEntry, details types.AuditDetails) (types.Settings, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return types.Settings{}, ErrInvalidActor
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	next := types.DefaultSettings(now)
	if settings != nil {
		next = settings.Clone()
		next.Normalize()
	}

	entry := newAuditEntry(action, details, actor, now)
	if err := a.backend.Replace(ctx, next, audit, entry); err != nil {
		a.recordFailure(action, "persistence")
		a.logger.Error("access-control replace failed",
			zap.String("action", string(action)),
			zap.Error(err))
		return types.Settings{}, fmt.Errorf("%w: replace %s: %w", ErrPersistence, action, err)
	}

	a.recordSuccess(action, next)
	a.logger.Info("access-control replaced",
		zap.String("action", string(action)),
		zap.String("actor", actor.ID),
		zap.Int64("version", next.Version))
	return next, nil
}

func (a *AccessControl) checkKnown(ctx context.Context, id types.EntityID) error {
	if !a.strict {
		return nil
	}
	known, err := a.registry.IsKnown(ctx, id)
	if err != nil {
		return fmt.Errorf("directory lookup %s: %w", id, err)
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	return nil
}

func (a *AccessControl) recordSuccess(action types.AuditAction, s types.Settings) {
	if a.metrics == nil {
		return
	}
	a.metrics.IncrementMutation(string(action))
	a.metrics.SetGlobalAccess(s.GlobalAccessEnabled)
}

func (a *AccessControl) recordFailure(action types.AuditAction, reason string) {
	if a.metrics == nil {
		return
	}
	a.metrics.IncrementMutationFailure(string(action), reason)
}

func newAuditEntry(action types.AuditAction, details types.AuditDetails, actor types.Actor, now time.Time) types.AuditEntry {
	return types.AuditEntry{
		ID:          newID("audit_"),
		Timestamp:   now,
		Action:      action,
		Details:     details,
		PerformedBy: actor.ID,
		IP:          actor.IP,
		UserAgent:   actor.UserAgent,
	}
}

// newID is time-ordered (UUIDv7) with a random tail.
func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + id.String()
}

func dedupeIDs(ids []types.EntityID) []types.EntityID {
	seen := make(map[types.EntityID]struct{}, len(ids))
	out := make([]types.EntityID, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func settingsRef(s types.Settings) *types.Settings {
	c := s.Clone()
	return &c
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
