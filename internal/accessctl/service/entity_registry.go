package service

import (
	"context"
	"strings"

	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// EntityRegistry is the read-only view of the entity directory.
type EntityRegistry struct {
	dir store.Directory
}

func NewEntityRegistry(dir store.Directory) *EntityRegistry {
	return &EntityRegistry{dir: dir}
}

func (r *EntityRegistry) IsKnown(ctx context.Context, id types.EntityID) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	_, ok, err := r.dir.Get(ctx, id)
	return ok, err
}

func (r *EntityRegistry) List(ctx context.Context) ([]types.Entity, error) {
	return r.dir.List(ctx)
}
