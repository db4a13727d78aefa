package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/xela07ax/spaceai-assistant/internal/audit"
)

// AuditRepo долговременный приемник для AgentFS
type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

const auditColumns = 12

// WriteBatch вставляет пачку одним запросом
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(events))
	vals := make([]any, 0, len(events)*auditColumns)
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", auditColumns), ", ") + ")"
	for _, e := range events {
		placeholders = append(placeholders, row)
		vals = append(vals,
			e.ID, e.TraceID, e.Signature, e.ToolName, e.Action, e.RiskLevel,
			e.Parameters, e.Decision, e.Outcome, e.Reason, e.UserContext, e.Timestamp.UTC(),
		)
	}

	query := "INSERT OR IGNORE INTO audit_events (id, trace_id, signature, tool_name, action, risk_level, parameters, decision, outcome, reason, user_context, timestamp) VALUES " +
		strings.Join(placeholders, ", ")

	return r.db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, vals...); err != nil {
			return fmt.Errorf("sqlite: write audit batch: %w", err)
		}
		return nil
	})
}

// Recent: последние события из базы, от старых к новым
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]audit.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, trace_id, signature, tool_name, action, risk_level, parameters, decision, outcome, reason, user_context, timestamp
		FROM audit_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit: %w", err)
	}
	defer rows.Close()

	var out []audit.AuditEvent
	for rows.Next() {
		var e audit.AuditEvent
		var trace, params, reason, userCtx sql.NullString
		if err := rows.Scan(&e.ID, &trace, &e.Signature, &e.ToolName, &e.Action, &e.RiskLevel,
			&params, &e.Decision, &e.Outcome, &reason, &userCtx, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit: %w", err)
		}
		e.TraceID, e.Parameters, e.Reason, e.UserContext = trace.String, params.String, reason.String, userCtx.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
