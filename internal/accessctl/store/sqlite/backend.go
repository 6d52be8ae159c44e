package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/accessctl/types"
	dbpkg "github.com/faredeal/accessctl/internal/db"
)

// Backend stores settings in the single-row access_settings table and the
// audit log in access_audit. Every write runs on the shared db.Worker.
type Backend struct {
	db       *sql.DB
	writer   *dbpkg.Worker
	capacity int
}

func NewBackend(db *sql.DB, writer *dbpkg.Worker, capacity int) *Backend {
	if capacity <= 0 {
		capacity = store.DefaultAuditCapacity
	}
	return &Backend{db: db, writer: writer, capacity: capacity}
}

func (b *Backend) LoadSettings(ctx context.Context) (types.Settings, bool, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body_json FROM access_settings WHERE id = 1;`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Settings{}, false, nil
	}
	if err != nil {
		return types.Settings{}, false, fmt.Errorf("LoadSettings query: %w", err)
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return types.Settings{}, false, fmt.Errorf("LoadSettings decode: %w", err)
	}
	s.Normalize()
	return s, true, nil
}

func (b *Backend) Initialize(ctx context.Context, s types.Settings) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("Initialize encode: %w", err)
	}
	return b.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO access_settings(id, version, global_access_enabled, body_json, updated_at_ms)
VALUES (1, ?, ?, ?, ?);
`, s.Version, boolInt(s.GlobalAccessEnabled), string(body), s.LastUpdated.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("Initialize insert: %w", err)
		}
		return nil
	})
}

func (b *Backend) Commit(ctx context.Context, expected int64, next types.Settings, entry types.AuditEntry) error {
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("Commit encode: %w", err)
	}

	return b.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE access_settings
SET version = ?,
    global_access_enabled = ?,
    body_json = ?,
    updated_at_ms = ?
WHERE id = 1 AND version = ?;
`, next.Version, boolInt(next.GlobalAccessEnabled), string(body), next.LastUpdated.UTC().UnixMilli(), expected)
		if err != nil {
			return fmt.Errorf("Commit update settings: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Commit rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrVersionConflict
		}

		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
		return b.trim(ctx, tx)
	})
}

func (b *Backend) Replace(ctx context.Context, next types.Settings, audit []types.AuditEntry, entry types.AuditEntry) error {
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("Replace encode: %w", err)
	}

	return b.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_settings(id, version, global_access_enabled, body_json, updated_at_ms)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  version = excluded.version,
  global_access_enabled = excluded.global_access_enabled,
  body_json = excluded.body_json,
  updated_at_ms = excluded.updated_at_ms;
`, next.Version, boolInt(next.GlobalAccessEnabled), string(body), next.LastUpdated.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("Replace upsert settings: %w", err)
		}

		if audit != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM access_audit;`); err != nil {
				return fmt.Errorf("Replace clear audit: %w", err)
			}
			// Oldest first so seq order matches log order.
			for i := len(audit) - 1; i >= 0; i-- {
				if err := insertAudit(ctx, tx, audit[i]); err != nil {
					return err
				}
			}
		}

		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
		return b.trim(ctx, tx)
	})
}

func (b *Backend) ListAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	if limit <= 0 || limit > b.capacity {
		limit = b.capacity
	}

	rows, err := b.db.QueryContext(ctx, `
SELECT audit_id, ts_ms, action, details_json, performed_by, ip, user_agent
FROM access_audit
ORDER BY seq DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListAudit query: %w", err)
	}
	defer rows.Close()

	out := make([]types.AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e       types.AuditEntry
			tsMs    int64
			action  string
			details string
			ip      sql.NullString
			ua      sql.NullString
		)
		if err := rows.Scan(&e.ID, &tsMs, &action, &details, &e.PerformedBy, &ip, &ua); err != nil {
			return nil, fmt.Errorf("ListAudit scan: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("ListAudit decode %s: %w", e.ID, err)
		}
		e.Timestamp = time.UnixMilli(tsMs).UTC()
		e.Action = types.AuditAction(action)
		e.IP = ip.String
		e.UserAgent = ua.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAudit rows: %w", err)
	}
	return out, nil
}

func (b *Backend) PruneAuditOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := b.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM access_audit WHERE ts_ms < ?;`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("PruneAuditOlderThan delete: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// trim keeps the newest capacity rows. The subquery yields NULL when there
// are fewer rows than capacity, which matches nothing.
func (b *Backend) trim(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
DELETE FROM access_audit
WHERE seq <= (SELECT seq FROM access_audit ORDER BY seq DESC LIMIT 1 OFFSET ?);
`, b.capacity); err != nil {
		return fmt.Errorf("trim audit: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, e types.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("insert audit %s encode: %w", e.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO access_audit(
  audit_id, ts_ms, action, details_json, performed_by, ip, user_agent
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Timestamp.UTC().UnixMilli(), string(e.Action), string(details), e.PerformedBy,
		nullString(e.IP), nullString(e.UserAgent)); err != nil {
		return fmt.Errorf("insert audit %s: %w", e.ID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
