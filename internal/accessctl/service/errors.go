package service

import (
	"errors"

	"github.com/faredeal/accessctl/internal/accessctl/store"
)

var (
	ErrInvalidActor         = errors.New("actor is required")
	ErrInvalidEntityID      = errors.New("entity id is required")
	ErrInvalidStatus        = errors.New("status must be active or disabled")
	ErrInvalidOperation     = errors.New("operation must be enable or disable")
	ErrNoEntities           = errors.New("at least one entity id is required")
	ErrUnknownEntity        = errors.New("entity not found in directory")
	ErrInvalidConfiguration = errors.New("invalid configuration data")

	// ErrPersistence wraps any backend read or write failure.
	ErrPersistence = errors.New("access-control persistence failed")

	// ErrVersionConflict is returned when another writer changed the
	// settings between this call's read and its write.
	ErrVersionConflict = store.ErrVersionConflict
)
