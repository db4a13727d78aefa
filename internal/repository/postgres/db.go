// Package postgres, хранилище для разделяемого развертывания (несколько узлов ассистента).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// Open открывает пул через pgx stdlib и проверяет соединение
func Open(ctx context.Context, connString string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(minConns, 1))
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate создает таблицы, если их нет
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS permission_grants (
	signature TEXT PRIMARY KEY,
	level TEXT NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	granted_by TEXT NOT NULL DEFAULT 'user',
	metadata JSONB
);

CREATE TABLE IF NOT EXISTS audit_events (
	id UUID PRIMARY KEY,
	trace_id TEXT,
	signature TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	action TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	parameters JSONB,
	decision TEXT NOT NULL,
	outcome TEXT NOT NULL,
	reason TEXT,
	user_context TEXT,
	timestamp TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	function_name TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_messages(session_id, id);
`
