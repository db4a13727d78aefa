package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/xela07ax/spaceai-assistant/internal/audit"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events
	numFields := 12
	var placeholders strings.Builder
	vals := make([]any, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		if i > 0 {
			placeholders.WriteString(", ")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		var params any
		if e.Parameters != "" {
			params = e.Parameters
		}
		vals = append(vals,
			e.ID, e.TraceID, e.Signature, e.ToolName, e.Action, e.RiskLevel,
			params, e.Decision, e.Outcome, e.Reason, e.UserContext, e.Timestamp,
		)
	}

	query := "INSERT INTO audit_events (id, trace_id, signature, tool_name, action, risk_level, parameters, decision, outcome, reason, user_context, timestamp) VALUES " +
		placeholders.String() + " ON CONFLICT (id) DO NOTHING"

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}

// Recent: последние события, от старых к новым
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]audit.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, trace_id, signature, tool_name, action, risk_level, parameters, decision, outcome, reason, user_context, timestamp
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit: %w", err)
	}
	defer rows.Close()

	var out []audit.AuditEvent
	for rows.Next() {
		var e audit.AuditEvent
		var trace, params, reason, userCtx sql.NullString
		if err := rows.Scan(&e.ID, &trace, &e.Signature, &e.ToolName, &e.Action, &e.RiskLevel,
			&params, &e.Decision, &e.Outcome, &reason, &userCtx, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
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
