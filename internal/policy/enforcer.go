package policy

import (
	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

// Verdict: результат статической оценки запроса без участия пользователя.
type Verdict struct {
	Level  domain.PermissionLevel // Выданный уровень, если Prompt == false
	Prompt bool                   // Нужно спросить пользователя
	Reason string
}

// Enforcer решает, можно ли выдать разрешение автоматически.
type Enforcer interface {
	Evaluate(req domain.PermissionRequest) Verdict
}

// RiskEnforcer — правила по уровню риска и списку доверенных инструментов.
type RiskEnforcer struct {
	trusted map[string]struct{}
}

// DefaultTrustedTools инструменты, которым MEDIUM выдается без вопроса
var DefaultTrustedTools = []string{"file_manager", "window_manager"}

func NewRiskEnforcer(trusted []string) *RiskEnforcer {
	if trusted == nil {
		trusted = DefaultTrustedTools
	}
	set := make(map[string]struct{}, len(trusted))
	for _, name := range trusted {
		set[name] = struct{}{}
	}
	return &RiskEnforcer{trusted: set}
}

func (e *RiskEnforcer) Evaluate(req domain.PermissionRequest) Verdict {
	switch req.RiskLevel {
	case domain.RiskCritical:
		// CRITICAL всегда через пользователя
		return Verdict{Prompt: true, Reason: "critical risk requires confirmation"}
	case domain.RiskLow:
		return Verdict{Level: domain.PermissionSession, Reason: "auto-granted: low risk"}
	case domain.RiskMedium:
		if _, ok := e.trusted[req.ToolName]; ok {
			return Verdict{Level: domain.PermissionSession, Reason: "auto-granted: trusted tool"}
		}
	}
	return Verdict{Prompt: true, Reason: "user confirmation required"}
}

// IsTrusted нужен для вывода в CLI
func (e *RiskEnforcer) IsTrusted(tool string) bool {
	_, ok := e.trusted[tool]
	return ok
}
