package service

import (
	"context"
	"fmt"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// Entities returns the directory entities in directory order.
func (a *AccessControl) Entities(ctx context.Context) ([]types.Entity, error) {
	entities, err := a.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return entities, nil
}

// EntityViews pairs each directory entity with its effective status,
// resolved against a single settings snapshot.
func (a *AccessControl) EntityViews(ctx context.Context) ([]types.EntityView, error) {
	entities, err := a.Entities(ctx)
	if err != nil {
		return nil, err
	}
	s, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]types.EntityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, types.EntityView{Entity: e, AccessStatus: s.EffectiveStatus(e.ID)})
	}
	return views, nil
}

// Statistics summarizes the directory against the current settings.
// Entities whose effective status is disabled or disabled_globally both
// count as disabled.
func (a *AccessControl) Statistics(ctx context.Context) (types.Statistics, error) {
	views, err := a.EntityViews(ctx)
	if err != nil {
		return types.Statistics{}, err
	}
	s, err := a.load(ctx)
	if err != nil {
		return types.Statistics{}, err
	}
	recent, err := a.backend.ListAudit(ctx, recentActionLimit)
	if err != nil {
		return types.Statistics{}, fmt.Errorf("%w: list audit: %w", ErrPersistence, err)
	}

	stats := types.Statistics{
		TotalEntities:       len(views),
		GlobalAccessEnabled: s.GlobalAccessEnabled,
		RecentActionCount:   len(recent),
		LastUpdate:          s.LastUpdated,
	}
	for _, v := range views {
		switch v.AccessStatus {
		case types.EffectiveActive:
			stats.ActiveCount++
		case types.EffectiveDisabled, types.EffectiveDisabledGlobally:
			stats.DisabledCount++
		case types.EffectivePending:
			stats.PendingCount++
		}
	}
	return stats, nil
}
