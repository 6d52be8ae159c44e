package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// Directory reads the entities table. It never writes.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) List(ctx context.Context) ([]types.Entity, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT entity_id, name, email, department, status, last_login_ms
FROM entities
ORDER BY sort_order, entity_id;
`)
	if err != nil {
		return nil, fmt.Errorf("Directory.List query: %w", err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("Directory.List scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Directory.List rows: %w", err)
	}
	return out, nil
}

func (d *Directory) Get(ctx context.Context, id types.EntityID) (types.Entity, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Entity{}, false, nil
	}

	row := d.db.QueryRowContext(ctx, `
SELECT entity_id, name, email, department, status, last_login_ms
FROM entities
WHERE entity_id = ?;
`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Entity{}, false, nil
	}
	if err != nil {
		return types.Entity{}, false, fmt.Errorf("Directory.Get %s: %w", id, err)
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (types.Entity, error) {
	var (
		e         types.Entity
		lastLogin sql.NullInt64
	)
	if err := s.Scan(&e.ID, &e.Name, &e.Email, &e.Department, &e.Status, &lastLogin); err != nil {
		return types.Entity{}, err
	}
	if lastLogin.Valid {
		t := time.UnixMilli(lastLogin.Int64).UTC()
		e.LastLogin = &t
	}
	return e, nil
}
