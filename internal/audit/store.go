// Package audit persists plugin enforcement events. Violations and plugin
// errors are recorded per request so operators can answer what was blocked,
// by which plugin, and when.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toolgate/toolgate/internal/plugin"
)

const createEvents = "CREATE TABLE IF NOT EXISTS plugin_events (" +
	"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
	"ts INTEGER NOT NULL, " +
	"request_id TEXT NOT NULL, " +
	"plugin TEXT NOT NULL, " +
	"hook TEXT NOT NULL, " +
	"kind TEXT NOT NULL, " +
	"mode TEXT NOT NULL, " +
	"code TEXT, " +
	"detail TEXT, " +
	"payload_hash INTEGER NOT NULL" +
	")"

const insertEvent = "INSERT INTO plugin_events (" +
	"ts, request_id, plugin, hook, kind, mode, code, detail, payload_hash) " +
	"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"

const selectRecent = "SELECT ts, request_id, plugin, hook, kind, mode, code, detail, payload_hash " +
	"FROM plugin_events ORDER BY id DESC LIMIT ?"

// Store is a SQLite-backed event recorder.
type Store struct {
	db *sql.DB
}

// Open creates or opens the event database at path and ensures the schema
// exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("audit store path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	// The modernc driver serializes writes itself but a single connection
	// avoids SQLITE_BUSY on concurrent recorders.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createEvents); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record implements plugin.Recorder.
func (s *Store) Record(ctx context.Context, ev plugin.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, insertEvent,
		ev.Time.UnixMilli(),
		ev.RequestID,
		ev.Plugin,
		string(ev.Hook),
		string(ev.Kind),
		string(ev.Mode),
		ev.Code,
		ev.Detail,
		int64(ev.PayloadHash),
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// Recent returns the latest n events, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]plugin.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, selectRecent, n)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []plugin.AuditEvent
	for rows.Next() {
		var ev plugin.AuditEvent
		var ts int64
		var hash int64
		var hook, kind, mode string
		if err := rows.Scan(&ts, &ev.RequestID, &ev.Plugin, &hook, &kind, &mode, &ev.Code, &ev.Detail, &hash); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Time = time.UnixMilli(ts)
		ev.Hook = plugin.HookType(hook)
		ev.Kind = plugin.AuditEventKind(kind)
		ev.Mode = plugin.Mode(mode)
		ev.PayloadHash = uint64(hash)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ plugin.Recorder = (*Store)(nil)
