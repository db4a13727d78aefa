// Package notify доставляет запросы разрешений пользователю и возвращает его ответ.
package notify

import (
	"context"
	"errors"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

var ErrNotifierClosed = errors.New("notifier closed")

// Notification: то, что видит пользователь при запросе разрешения
type Notification struct {
	RequestID string           `json:"request_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ToolName  string           `json:"tool_name"`
	Action    string           `json:"action"`
	RiskLevel domain.RiskLevel `json:"risk_level"`
	Options   []string         `json:"options"`
}

// ResponseFunc вызывается не более одного раза на requestID
type ResponseFunc func(requestID, response string)

// Notifier — канал "Notification Service". Отправка не блокирует до ответа:
// ответ приходит позже через ResponseFunc.
type Notifier interface {
	SendPermissionNotification(ctx context.Context, n Notification, onResponse ResponseFunc) error
}

// DefaultOptions допустимые ответы пользователя
var DefaultOptions = []string{
	string(domain.PermissionDeny),
	string(domain.PermissionOnce),
	string(domain.PermissionSession),
	string(domain.PermissionPermanent),
}
