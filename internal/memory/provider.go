// Package memory, контракт хранилища истории диалогов и поиска по памяти.
package memory

import (
	"context"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

// Entry — найденный фрагмент памяти
type Entry struct {
	SessionID string      `json:"session_id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Score     float64     `json:"score"`
	CreatedAt time.Time   `json:"created_at"`
}

// Provider пустой результат означает "контекста нет", а не ошибку.
type Provider interface {
	GetConversationContext(ctx context.Context, sessionID string, maxMessages int) ([]domain.Message, error)
	SearchMemory(ctx context.Context, query string, limit int) ([]Entry, error)
	AddMessage(ctx context.Context, sessionID string, msg domain.Message) error
}

// Nop: память отключена
type Nop struct{}

func (Nop) GetConversationContext(context.Context, string, int) ([]domain.Message, error) {
	return nil, nil
}

func (Nop) SearchMemory(context.Context, string, int) ([]Entry, error) { return nil, nil }

func (Nop) AddMessage(context.Context, string, domain.Message) error { return nil }
