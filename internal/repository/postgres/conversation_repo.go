package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/memory"
)

type ConversationRepo struct {
	db *sql.DB
}

var _ memory.Provider = (*ConversationRepo)(nil)

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	query := `
		INSERT INTO conversation_messages (session_id, role, content, function_name, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, sessionID, string(msg.Role), msg.Content, msg.FunctionName, created); err != nil {
		return fmt.Errorf("postgres: add message: %w", err)
	}
	return nil
}

func (r *ConversationRepo) GetConversationContext(ctx context.Context, sessionID string, maxMessages int) ([]domain.Message, error) {
	if maxMessages <= 0 {
		return nil, nil
	}
	query := `
		SELECT role, content, function_name, created_at
		FROM conversation_messages
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, sessionID, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("postgres: query conversation: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var fn sql.NullString
		if err := rows.Scan(&role, &m.Content, &fn, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.FunctionName = fn.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// SearchMemory — ILIKE по словам запроса, ранжирование на стороне приложения
func (r *ConversationRepo) SearchMemory(ctx context.Context, query string, limit int) ([]memory.Entry, error) {
	terms := memory.Terms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		conds = append(conds, fmt.Sprintf("content ILIKE $%d", i+1))
		args = append(args, "%"+t+"%")
	}
	args = append(args, limit*4)

	sqlQuery := fmt.Sprintf(`
		SELECT session_id, role, content, created_at
		FROM conversation_messages
		WHERE %s
		ORDER BY id DESC
		LIMIT $%d`, strings.Join(conds, " OR "), len(args))

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memory: %w", err)
	}
	defer rows.Close()

	var out []memory.Entry
	for rows.Next() {
		var e memory.Entry
		var role string
		if err := rows.Scan(&e.SessionID, &role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan memory: %w", err)
		}
		e.Role = domain.Role(role)
		e.Score = memory.Score(e.Content, terms)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memory.TopN(out, limit), nil
}
