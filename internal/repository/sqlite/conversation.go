package sqlite

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

// ConversationRepo — memory.Provider поверх таблицы сообщений.
// Поиск простой LIKE по словам запроса, без эмбеддингов.
type ConversationRepo struct {
	db *DB
}

var _ memory.Provider = (*ConversationRepo)(nil)

func NewConversationRepo(db *DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return r.db.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (session_id, role, content, function_name, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sessionID, string(msg.Role), msg.Content, msg.FunctionName, created.UTC())
		if err != nil {
			return fmt.Errorf("sqlite: add message: %w", err)
		}
		return nil
	})
}

// GetConversationContext: последние maxMessages сообщений сессии в хронологическом порядке
func (r *ConversationRepo) GetConversationContext(ctx context.Context, sessionID string, maxMessages int) ([]domain.Message, error) {
	if maxMessages <= 0 {
		return nil, nil
	}
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT role, content, function_name, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`, sessionID, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query conversation: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var fn sql.NullString
		if err := rows.Scan(&role, &m.Content, &fn, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
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

// SearchMemory: score — доля слов запроса, найденных в сообщении
func (r *ConversationRepo) SearchMemory(ctx context.Context, query string, limit int) ([]memory.Entry, error) {
	terms := memory.Terms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)+1)
	for _, t := range terms {
		conds = append(conds, "LOWER(content) LIKE ?")
		args = append(args, "%"+t+"%")
	}
	args = append(args, limit*4)

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT session_id, role, content, created_at
		FROM conversation_messages
		WHERE `+strings.Join(conds, " OR ")+`
		ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search memory: %w", err)
	}
	defer rows.Close()

	var out []memory.Entry
	for rows.Next() {
		var e memory.Entry
		var role string
		if err := rows.Scan(&e.SessionID, &role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan memory: %w", err)
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
