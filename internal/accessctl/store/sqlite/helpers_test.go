package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/faredeal/accessctl/internal/accessctl/types"
	"github.com/faredeal/accessctl/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production, closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Shared cache keeps the in-memory database alive across pool reconnects.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn, closed when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	return w
}

var baseTime = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func auditEntry(id string, offset time.Duration) types.AuditEntry {
	return types.AuditEntry{
		ID:          id,
		Timestamp:   baseTime.Add(offset),
		Action:      types.ActionIndividualToggle,
		Details:     types.AuditDetails{EntityID: "emp001", NewStatus: types.StatusDisabled, PreviousStatus: types.StatusActive},
		PerformedBy: "admin",
	}
}

func bumped(s types.Settings) types.Settings {
	next := s.Clone()
	next.Version++
	next.LastUpdated = next.LastUpdated.Add(time.Second)
	return next
}
