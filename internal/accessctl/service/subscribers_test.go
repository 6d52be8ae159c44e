package service_test

import (
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

func (s *StoreSuite) TestSubscribersRunInOrder() {
	var order []string
	unsubA := s.store.Subscribe(func(types.Event) { order = append(order, "a") })
	unsubB := s.store.Subscribe(func(types.Event) { order = append(order, "b") })
	defer unsubB()

	_, err := s.store.ToggleGlobalAccess(s.ctx, admin)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, order)

	unsubA()
	unsubA()
	_, err = s.store.ToggleGlobalAccess(s.ctx, admin)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "b"}, order)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Subscribers))
}

func (s *StoreSuite) TestPanickingSubscriberDoesNotBlockOthers() {
	s.store.Subscribe(func(types.Event) { panic("boom") })
	got := s.events()

	_, err := s.store.BulkUpdate(s.ctx, types.BulkDisable, []types.EntityID{"emp001"}, admin, "")
	s.Require().NoError(err, "a subscriber panic never fails the mutation")

	s.Require().Len(got(), 1)
	s.Equal(types.EventBulkOperationCompleted, got()[0].Type)
	s.Equal(1, got()[0].AffectedCount)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.SubscriberPanics))
}

func (s *StoreSuite) TestSubscriberCannotMutateStoreState() {
	s.store.Subscribe(func(ev types.Event) {
		if ev.Settings != nil {
			ev.Settings.Overrides["emp001"] = types.Override{Status: types.StatusDisabled}
		}
	})

	_, err := s.store.SetEntityAccess(s.ctx, "emp002", types.StatusDisabled, admin)
	s.Require().NoError(err)

	st, err := s.store.EffectiveStatus(s.ctx, "emp001")
	s.Require().NoError(err)
	s.Equal(types.EffectiveActive, st)
}

func (s *StoreSuite) TestSubscriberMayReenterStore() {
	var seen types.EffectiveStatus
	s.store.Subscribe(func(ev types.Event) {
		if ev.Type != types.EventIndividualAccessChanged {
			return
		}
		seen, _ = s.store.EffectiveStatus(s.ctx, ev.EntityID)
	})

	_, err := s.store.SetEntityAccess(s.ctx, "emp006", types.StatusDisabled, admin)
	s.Require().NoError(err)
	s.Equal(types.EffectiveDisabled, seen)
}

func (s *StoreSuite) TestDirectoryReloadedEvent() {
	got := s.events()
	s.store.NotifyDirectoryReloaded(8)

	s.Require().Len(got(), 1)
	s.Equal(types.EventDirectoryReloaded, got()[0].Type)
	s.Equal(8, got()[0].AffectedCount)
}
