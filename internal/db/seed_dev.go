package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// SeedEntities upserts entities into the directory table, preserving the
// given order. Only used in dev; production directories are managed
// elsewhere.
func SeedEntities(ctx context.Context, db *sql.DB, entities []types.Entity) error {
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed entities begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, e := range entities {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			continue
		}
		var lastLogin any
		if e.LastLogin != nil {
			lastLogin = e.LastLogin.UTC().UnixMilli()
		}
		status := e.Status
		if status == "" {
			status = "active"
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO entities(
  entity_id, name, email, department, status,
  last_login_ms, sort_order, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_id) DO UPDATE SET
  name = excluded.name,
  email = excluded.email,
  department = excluded.department,
  status = excluded.status,
  last_login_ms = excluded.last_login_ms,
  sort_order = excluded.sort_order,
  updated_at_ms = excluded.updated_at_ms;
`, id, e.Name, e.Email, e.Department, status, lastLogin, i, now, now); err != nil {
			return fmt.Errorf("seed entity %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed entities commit: %w", err)
	}
	return nil
}
