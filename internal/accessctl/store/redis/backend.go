package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// DefaultKeyPrefix namespaces the two keys the backend owns.
const DefaultKeyPrefix = "accessctl"

// Backend keeps the settings blob in a string key and the audit log in a
// list key (index 0 = newest). Writers use WATCH on the settings key so two
// processes racing on the same version cannot both commit.
type Backend struct {
	client      goredis.UniversalClient
	settingsKey string
	auditKey    string
	capacity    int
}

func NewBackend(client goredis.UniversalClient, prefix string, capacity int) *Backend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if capacity <= 0 {
		capacity = store.DefaultAuditCapacity
	}
	return &Backend{
		client:      client,
		settingsKey: prefix + ":settings",
		auditKey:    prefix + ":audit",
		capacity:    capacity,
	}
}

// Open parses a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (b *Backend) LoadSettings(ctx context.Context) (types.Settings, bool, error) {
	return loadSettings(ctx, b.client, b.settingsKey)
}

func (b *Backend) Initialize(ctx context.Context, s types.Settings) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("Initialize encode: %w", err)
	}
	if err := b.client.SetNX(ctx, b.settingsKey, body, 0).Err(); err != nil {
		return fmt.Errorf("Initialize setnx: %w", err)
	}
	return nil
}

func (b *Backend) Commit(ctx context.Context, expected int64, next types.Settings, entry types.AuditEntry) error {
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("Commit encode: %w", err)
	}
	rawEntry, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("Commit encode audit: %w", err)
	}

	err = b.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, found, err := loadSettings(ctx, tx, b.settingsKey)
		if err != nil {
			return err
		}
		if !found || current.Version != expected {
			return store.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, b.settingsKey, body, 0)
			pipe.LPush(ctx, b.auditKey, rawEntry)
			pipe.LTrim(ctx, b.auditKey, 0, int64(b.capacity-1))
			return nil
		})
		return err
	}, b.settingsKey)

	switch {
	case errors.Is(err, goredis.TxFailedErr):
		return store.ErrVersionConflict
	case errors.Is(err, store.ErrVersionConflict):
		return err
	case err != nil:
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (b *Backend) Replace(ctx context.Context, next types.Settings, audit []types.AuditEntry, entry types.AuditEntry) error {
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("Replace encode: %w", err)
	}
	rawEntry, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("Replace encode audit: %w", err)
	}

	var log []any
	if audit != nil {
		log = make([]any, 0, len(audit))
		for _, e := range audit {
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("Replace encode audit %s: %w", e.ID, err)
			}
			log = append(log, raw)
		}
	}

	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, b.settingsKey, body, 0)
		if audit != nil {
			pipe.Del(ctx, b.auditKey)
			if len(log) > 0 {
				pipe.RPush(ctx, b.auditKey, log...)
			}
		}
		pipe.LPush(ctx, b.auditKey, rawEntry)
		pipe.LTrim(ctx, b.auditKey, 0, int64(b.capacity-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("Replace: %w", err)
	}
	return nil
}

func (b *Backend) ListAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	if limit <= 0 || limit > b.capacity {
		limit = b.capacity
	}
	raw, err := b.client.LRange(ctx, b.auditKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("ListAudit: %w", err)
	}
	return decodeAudit(raw)
}

// PruneAuditOlderThan drops every entry older than cutoff and rewrites the
// list in its original order. Imported logs need not be sorted by time, so
// each entry is checked.
func (b *Backend) PruneAuditOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := b.client.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.LRange(ctx, b.auditKey, 0, -1).Result()
		if err != nil {
			return err
		}
		entries, err := decodeAudit(raw)
		if err != nil {
			return err
		}

		kept := make([]any, 0, len(entries))
		for i, e := range entries {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, raw[i])
			}
		}
		removed = int64(len(entries) - len(kept))
		if removed == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, b.auditKey)
			if len(kept) > 0 {
				pipe.RPush(ctx, b.auditKey, kept...)
			}
			return nil
		})
		return err
	}, b.auditKey)
	if err != nil {
		return 0, fmt.Errorf("PruneAuditOlderThan: %w", err)
	}
	return removed, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func loadSettings(ctx context.Context, c getter, key string) (types.Settings, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return types.Settings{}, false, nil
	}
	if err != nil {
		return types.Settings{}, false, fmt.Errorf("LoadSettings get: %w", err)
	}
	var s types.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Settings{}, false, fmt.Errorf("LoadSettings decode: %w", err)
	}
	s.Normalize()
	return s, true, nil
}

func decodeAudit(raw []string) ([]types.AuditEntry, error) {
	out := make([]types.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e types.AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
