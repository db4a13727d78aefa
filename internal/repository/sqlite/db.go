// Package sqlite, локальное хранилище ассистента: постоянные гранты, аудит и история диалогов.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v5"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB: одно соединение на запись, SQLite не умеет параллельных писателей
type DB struct {
	db *sql.DB
}

// Open создает каталог, открывает базу в WAL режиме и прогоняет миграции.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	d := &DB{db: conn}
	if err := d.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS permission_grants (
		signature TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		granted_at DATETIME NOT NULL,
		expires_at DATETIME,
		granted_by TEXT NOT NULL DEFAULT 'user',
		metadata TEXT
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		trace_id TEXT,
		signature TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		action TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		parameters TEXT,
		decision TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		user_context TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		function_name TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_signature ON audit_events(signature);
	CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_messages(session_id, id);
	`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// write повторяет запись, если база занята другим процессом
func (d *DB) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	)
	var fatal error
	err := r.Do(func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if !isBusy(err) {
				// повтором не лечится
				fatal = err
				return nil
			}
			return err
		}
		return tx.Commit()
	})
	if fatal != nil {
		return fatal
	}
	return err
}

// isBusy: SQLITE_BUSY или SQLITE_LOCKED, включая расширенные коды
func isBusy(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
