package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/faredeal/accessctl/internal/accessctl/service"
	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/accessctl/store/memory"
	"github.com/faredeal/accessctl/internal/accessctl/types"
)

func (s *StoreSuite) TestSettingsInitializesDefaults() {
	got, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)

	s.True(got.GlobalAccessEnabled)
	s.Empty(got.Overrides)
	s.Empty(got.BulkOperations)
	s.Equal(int64(1), got.Version)
	s.False(got.LastUpdated.IsZero())
	s.Zero(s.backend.AuditLen(), "initialization is not an audited mutation")

	again, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Equal(got.LastUpdated, again.LastUpdated, "defaults are stored once")
}

func (s *StoreSuite) TestToggleGlobalAccess() {
	s.Run("flag follows call parity", func() {
		for i := 1; i <= 5; i++ {
			got, err := s.store.ToggleGlobalAccess(s.ctx, admin)
			s.Require().NoError(err)
			s.Equal(i%2 == 0, got.GlobalAccessEnabled, "after %d toggles", i)
			s.Equal(int64(1+i), got.Version)
		}
	})

	s.Run("audit entry records resulting state", func() {
		log, err := s.store.AuditLog(s.ctx, 1)
		s.Require().NoError(err)
		s.Require().Len(log, 1)
		s.Equal(types.ActionGlobalToggle, log[0].Action)
		s.Equal("disabled", log[0].Details.GlobalStatus)
		s.Equal("all_entities", log[0].Details.AffectedUsers)
		s.Equal("admin", log[0].PerformedBy)
		s.Equal("10.0.0.5", log[0].IP)
		s.Contains(log[0].ID, "audit_")
	})

	s.Run("global off overrides every entity", func() {
		st, err := s.store.EffectiveStatus(s.ctx, "emp001")
		s.Require().NoError(err)
		s.Equal(types.EffectiveDisabledGlobally, st)

		ok, err := s.store.HasAccess(s.ctx, "emp001")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Equal(float64(0), testutil.ToFloat64(s.metrics.GlobalAccess))
	s.Equal(float64(5), testutil.ToFloat64(s.metrics.Mutations.WithLabelValues(string(types.ActionGlobalToggle))))
}

func (s *StoreSuite) TestToggleGlobalAccessPublishesEvent() {
	events := s.events()

	_, err := s.store.ToggleGlobalAccess(s.ctx, admin)
	s.Require().NoError(err)

	got := events()
	s.Require().Len(got, 1)
	s.Equal(types.EventGlobalAccessChanged, got[0].Type)
	s.Require().NotNil(got[0].Enabled)
	s.False(*got[0].Enabled)
	s.Require().NotNil(got[0].Settings)
	s.False(got[0].Settings.GlobalAccessEnabled)
	s.False(got[0].Timestamp.IsZero())
}

func (s *StoreSuite) TestSetEntityAccessScenario() {
	_, err := s.store.SetEntityAccess(s.ctx, "emp001", types.StatusDisabled, admin)
	s.Require().NoError(err)

	st, err := s.store.EffectiveStatus(s.ctx, "emp001")
	s.Require().NoError(err)
	s.Equal(types.EffectiveDisabled, st)

	log, err := s.store.AuditLog(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(log, 1)
	s.Equal(types.ActionIndividualToggle, log[0].Action)
	s.Equal("emp001", log[0].Details.EntityID)
	s.Equal(types.StatusDisabled, log[0].Details.NewStatus)
	s.Equal(types.StatusActive, log[0].Details.PreviousStatus)
}

func (s *StoreSuite) TestSetEntityAccessRecordsPreviousOverride() {
	_, err := s.store.SetEntityAccess(s.ctx, "emp002", types.StatusDisabled, admin)
	s.Require().NoError(err)
	_, err = s.store.SetEntityAccess(s.ctx, "emp002", types.StatusActive, admin)
	s.Require().NoError(err)

	log, err := s.store.AuditLog(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(log, 1)
	s.Equal(types.StatusDisabled, log[0].Details.PreviousStatus)
	s.Equal(types.StatusActive, log[0].Details.NewStatus)
}

func (s *StoreSuite) TestDisabledOverrideUnderGlobalFlag() {
	settings, err := s.store.SetEntityAccess(s.ctx, "emp004", types.StatusDisabled, admin)
	s.Require().NoError(err)
	s.Equal("admin", settings.Overrides["emp004"].UpdatedBy)

	st, err := s.store.EffectiveStatus(s.ctx, "emp004")
	s.Require().NoError(err)
	s.Equal(types.EffectiveDisabled, st)

	_, err = s.store.ToggleGlobalAccess(s.ctx, admin)
	s.Require().NoError(err)

	st, err = s.store.EffectiveStatus(s.ctx, "emp004")
	s.Require().NoError(err)
	s.Equal(types.EffectiveDisabledGlobally, st)
}

func (s *StoreSuite) TestSetEntityAccessValidation() {
	tests := []struct {
		name   string
		id     types.EntityID
		status types.Status
		actor  types.Actor
		want   error
	}{
		{name: "blank id", id: "  ", status: types.StatusActive, actor: admin, want: service.ErrInvalidEntityID},
		{name: "bad status", id: "emp001", status: "pending", actor: admin, want: service.ErrInvalidStatus},
		{name: "blank actor", id: "emp001", status: types.StatusActive, actor: types.Actor{}, want: service.ErrInvalidActor},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.store.SetEntityAccess(s.ctx, tt.id, tt.status, tt.actor)
			s.ErrorIs(err, tt.want)
		})
	}
	s.Zero(s.backend.AuditLen())
}

func (s *StoreSuite) TestUnknownEntityPolicy() {
	s.Run("lenient by default", func() {
		_, err := s.store.SetEntityAccess(s.ctx, "emp999", types.StatusDisabled, admin)
		s.Require().NoError(err)
	})

	s.Run("strict rejects unknown ids", func() {
		strict := s.newStore(service.WithStrictEntities(true))
		_, err := strict.SetEntityAccess(s.ctx, "emp998", types.StatusDisabled, admin)
		s.ErrorIs(err, service.ErrUnknownEntity)

		_, err = strict.BulkUpdate(s.ctx, types.BulkDisable, []types.EntityID{"emp001", "ghost"}, admin, "")
		s.ErrorIs(err, service.ErrUnknownEntity)

		_, err = strict.SetEntityAccess(s.ctx, "emp003", types.StatusActive, admin)
		s.NoError(err)
	})
}

func (s *StoreSuite) TestBulkUpdateScenario() {
	before := s.backend.AuditLen()

	res, err := s.store.BulkUpdate(s.ctx, types.BulkDisable, []types.EntityID{"emp001", "emp002", "emp003"}, admin, "quarterly review")
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal(3, res.AffectedCount)
	s.Contains(res.Operation.ID, "bulk_")
	s.Equal("quarterly review", res.Operation.Reason)

	s.Equal(before+1, s.backend.AuditLen())
	log, err := s.store.AuditLog(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(types.ActionBulkOperation, log[0].Action)
	s.Equal(3, log[0].Details.AffectedEntities)
	s.Equal([]types.EntityID{"emp001", "emp002", "emp003"}, log[0].Details.EntityIDs)

	settings, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(settings.BulkOperations, 1)
	s.Equal(res.Operation, settings.BulkOperations[0])
}

func (s *StoreSuite) TestBulkUpdateCollapsesDuplicates() {
	res, err := s.store.BulkUpdate(s.ctx, types.BulkEnable, []types.EntityID{"emp001", "emp001", " emp002 ", ""}, admin, "")
	s.Require().NoError(err)
	s.Equal(2, res.AffectedCount)
	s.Equal([]types.EntityID{"emp001", "emp002"}, res.Operation.EntityIDs)
}

func (s *StoreSuite) TestBulkEnableThenDisableIsLastWriterWins() {
	ids := []types.EntityID{"emp001", "emp005", "emp007"}
	_, err := s.store.BulkUpdate(s.ctx, types.BulkEnable, ids, admin, "")
	s.Require().NoError(err)
	_, err = s.store.BulkUpdate(s.ctx, types.BulkDisable, ids, admin, "")
	s.Require().NoError(err)

	for _, id := range ids {
		st, err := s.store.EffectiveStatus(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(types.EffectiveDisabled, st, id)
	}
}

func (s *StoreSuite) TestBulkUpdateRejectsBadInput() {
	_, err := s.store.BulkUpdate(s.ctx, "archive", []types.EntityID{"emp001"}, admin, "")
	s.ErrorIs(err, service.ErrInvalidOperation)

	_, err = s.store.BulkUpdate(s.ctx, types.BulkDisable, []types.EntityID{" ", ""}, admin, "")
	s.ErrorIs(err, service.ErrNoEntities)

	_, err = s.store.BulkUpdate(s.ctx, types.BulkDisable, nil, admin, "")
	s.ErrorIs(err, service.ErrNoEntities)

	s.Zero(s.backend.AuditLen())
}

func (s *StoreSuite) TestBulkHistoryIsCapped() {
	for i := 0; i < 105; i++ {
		_, err := s.store.BulkUpdate(s.ctx, types.BulkEnable, []types.EntityID{fmt.Sprintf("emp%03d", i)}, admin, "")
		s.Require().NoError(err)
	}
	settings, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Len(settings.BulkOperations, 100)
	s.Equal([]types.EntityID{"emp005"}, settings.BulkOperations[0].EntityIDs)
	s.Equal([]types.EntityID{"emp104"}, settings.BulkOperations[99].EntityIDs)
}

func (s *StoreSuite) TestAuditLogCapacity() {
	st := service.New(memory.NewBackend(5), s.directory, service.WithClock(s.clock.Now))

	for i := 0; i < 8; i++ {
		_, err := st.ToggleGlobalAccess(s.ctx, types.Actor{ID: fmt.Sprintf("op%d", i)})
		s.Require().NoError(err)
	}

	log, err := st.AuditLog(s.ctx, 100)
	s.Require().NoError(err)
	s.Require().Len(log, 5)
	s.Equal("op7", log[0].PerformedBy, "newest first")
	s.Equal("op3", log[4].PerformedBy, "oldest three evicted")
}

func (s *StoreSuite) TestAuditLogDefaultLimit() {
	for i := 0; i < 60; i++ {
		_, err := s.store.ToggleGlobalAccess(s.ctx, admin)
		s.Require().NoError(err)
	}
	log, err := s.store.AuditLog(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(log, 50)
}

func (s *StoreSuite) TestConcurrentMutationsAreSerialized() {
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.store.SetEntityAccess(s.ctx, fmt.Sprintf("emp%03d", i), types.StatusDisabled, admin)
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	settings, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Len(settings.Overrides, writers, "no update lost")
	s.Equal(int64(1+writers), settings.Version)
	s.Equal(writers, s.backend.AuditLen())
}

func (s *StoreSuite) TestCrossProcessWriterGetsConflict() {
	_, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)

	other := s.newStore()
	racing := &racingBackend{Backend: s.backend, before: func() {
		_, err := other.ToggleGlobalAccess(s.ctx, types.Actor{ID: "other"})
		s.Require().NoError(err)
	}}
	st := service.New(racing, s.directory, service.WithClock(s.clock.Now), service.WithMetrics(s.metrics))

	_, err = st.SetEntityAccess(s.ctx, "emp001", types.StatusDisabled, admin)
	s.Require().Error(err)
	s.True(errors.Is(err, service.ErrVersionConflict))
	s.True(errors.Is(err, store.ErrVersionConflict))

	settings, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.False(settings.GlobalAccessEnabled, "the other writer's change survives")
	s.NotContains(settings.Overrides, "emp001")
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.MutationFailures.WithLabelValues(string(types.ActionIndividualToggle), "conflict")))
}

func (s *StoreSuite) TestStatistics() {
	_, err := s.store.SetEntityAccess(s.ctx, "emp003", types.StatusDisabled, admin)
	s.Require().NoError(err)
	_, err = s.store.SetEntityAccess(s.ctx, "emp008", types.StatusDisabled, admin)
	s.Require().NoError(err)

	stats, err := s.store.Statistics(s.ctx)
	s.Require().NoError(err)
	s.Equal(8, stats.TotalEntities)
	s.Equal(6, stats.ActiveCount)
	s.Equal(2, stats.DisabledCount)
	s.Zero(stats.PendingCount)
	s.True(stats.GlobalAccessEnabled)
	s.Equal(2, stats.RecentActionCount)

	_, err = s.store.ToggleGlobalAccess(s.ctx, admin)
	s.Require().NoError(err)
	stats, err = s.store.Statistics(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.ActiveCount)
	s.Equal(8, stats.DisabledCount)
	s.False(stats.GlobalAccessEnabled)
}

func (s *StoreSuite) TestRecentActionCountIsBounded() {
	for i := 0; i < 15; i++ {
		_, err := s.store.ToggleGlobalAccess(s.ctx, admin)
		s.Require().NoError(err)
	}
	stats, err := s.store.Statistics(s.ctx)
	s.Require().NoError(err)
	s.Equal(10, stats.RecentActionCount)
}

func (s *StoreSuite) TestEntityViews() {
	_, err := s.store.SetEntityAccess(s.ctx, "emp002", types.StatusDisabled, admin)
	s.Require().NoError(err)

	views, err := s.store.EntityViews(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(views, 8)
	s.Equal("emp001", views[0].ID)
	s.Equal(types.EffectiveActive, views[0].AccessStatus)
	s.Equal(types.EffectiveDisabled, views[1].AccessStatus)
}

func (s *StoreSuite) TestReset() {
	_, err := s.store.ToggleGlobalAccess(s.ctx, admin)
	s.Require().NoError(err)
	_, err = s.store.SetEntityAccess(s.ctx, "emp001", types.StatusDisabled, admin)
	s.Require().NoError(err)
	events := s.events()

	got, err := s.store.Reset(s.ctx, admin)
	s.Require().NoError(err)
	s.True(got.GlobalAccessEnabled)
	s.Empty(got.Overrides)
	s.Equal(int64(1), got.Version)

	log, err := s.store.AuditLog(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(log, 1)
	s.Equal(types.ActionReset, log[0].Action)

	s.Require().Len(events(), 1)
	s.Equal(types.EventConfigurationReset, events()[0].Type)
}

func (s *StoreSuite) TestPing() {
	res := s.store.Ping(s.ctx)
	s.True(res.Connected)
	s.Equal(types.ExportFormatVersion, res.Version)
	s.Empty(res.Error)
}

// racingBackend lets another writer commit between this store's read and
// its write.
type racingBackend struct {
	store.Backend
	once   sync.Once
	before func()
}

func (b *racingBackend) Commit(ctx context.Context, expected int64, next types.Settings, entry types.AuditEntry) error {
	b.once.Do(b.before)
	return b.Backend.Commit(ctx, expected, next, entry)
}
