package permission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/notify"
	"go.uber.org/zap"
)

// prompt future одного запроса к пользователю. Разрешается ровно один раз.
type prompt struct {
	req       domain.PermissionRequest
	createdAt time.Time
	done      chan domain.PermissionLevel
	once      sync.Once
}

func (p *prompt) resolve(level domain.PermissionLevel) bool {
	resolved := false
	p.once.Do(func() {
		p.done <- level // буфер 1, не блокирует
		resolved = true
	})
	return resolved
}

// prompt отправляет уведомление и ждет первого из: ответа, таймаута, отмены ctx.
// err != nil означает, что сам запрос не удалось доставить.
func (a *Authority) prompt(ctx context.Context, req domain.PermissionRequest) (domain.PermissionLevel, string, error) {
	if a.notifier == nil {
		return domain.PermissionDeny, "no notifier configured", fmt.Errorf("no notifier configured")
	}

	id := "perm_" + uuid.New().String()
	p := &prompt{req: req, createdAt: a.clock(), done: make(chan domain.PermissionLevel, 1)}

	a.mu.Lock()
	a.pending[id] = p
	a.mu.Unlock()

	// Запись удаляется при любом исходе, поздний ответ попадет на неизвестный id
	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	n := notify.Notification{
		RequestID: id,
		Title:     fmt.Sprintf("Permission required: %s", req.ToolName),
		Message:   describe(req),
		ToolName:  req.ToolName,
		Action:    req.Action,
		RiskLevel: req.RiskLevel,
		Options:   notify.DefaultOptions,
	}
	if err := a.notifier.SendPermissionNotification(waitCtx, n, func(requestID, response string) {
		a.HandleResponse(requestID, response)
	}); err != nil {
		return domain.PermissionDeny, "notification failed: " + err.Error(), err
	}

	a.logger.Info("waiting for user decision",
		zap.String("request_id", id),
		zap.String("tool", req.ToolName),
		zap.String("risk", string(req.RiskLevel)),
	)

	select {
	case level := <-p.done:
		return level, "user response: " + string(level), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return domain.PermissionDeny, "request cancelled", nil
		}
		a.logger.Warn("permission prompt timed out", zap.String("request_id", id))
		return domain.PermissionDeny, "prompt timeout", nil
	}
}

// HandleResponse разрешает ожидающий промпт. Ответ вне словаря трактуется как deny.
// Возвращает false для неизвестного или уже разрешенного id.
func (a *Authority) HandleResponse(requestID, response string) bool {
	a.mu.Lock()
	p, ok := a.pending[requestID]
	a.mu.Unlock()
	if !ok {
		a.logger.Debug("response for unknown request ignored", zap.String("request_id", requestID))
		return false
	}
	return p.resolve(domain.ParsePermissionLevel(response))
}

func describe(req domain.PermissionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants to %s", req.ToolName, req.Action)
	if req.Description != "" {
		fmt.Fprintf(&b, ": %s", req.Description)
	}
	fmt.Fprintf(&b, "\nRisk: %s", strings.ToUpper(string(req.RiskLevel)))
	if len(req.RequiredCapabilities) > 0 {
		fmt.Fprintf(&b, "\nCapabilities: %s", strings.Join(req.RequiredCapabilities, ", "))
	}
	if len(req.Parameters) > 0 {
		keys := make([]string, 0, len(req.Parameters))
		for k := range req.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n  %s = %s", k, req.Parameters[k])
		}
	}
	return b.String()
}
