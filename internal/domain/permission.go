package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// PermissionLevel — итог авторизации сигнатуры
type PermissionLevel string

const (
	PermissionDeny      PermissionLevel = "deny"
	PermissionOnce      PermissionLevel = "allow_once"
	PermissionSession   PermissionLevel = "allow_session"
	PermissionPermanent PermissionLevel = "allow_permanent"
)

// RiskLevel заявленный уровень риска инструмента
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

const (
	OnceTTL    = 5 * time.Minute
	SessionTTL = 8 * time.Hour
)

// ParsePermissionLevel переводит ответ пользователя в уровень.
// Все, что не входит в словарь, трактуется как deny (Fail-Closed).
func ParsePermissionLevel(response string) PermissionLevel {
	switch PermissionLevel(strings.ToLower(strings.TrimSpace(response))) {
	case PermissionOnce:
		return PermissionOnce
	case PermissionSession:
		return PermissionSession
	case PermissionPermanent:
		return PermissionPermanent
	default:
		return PermissionDeny
	}
}

// TTL возвращает срок жизни гранта; 0, бессрочно.
func (l PermissionLevel) TTL() time.Duration {
	switch l {
	case PermissionOnce:
		return OnceTTL
	case PermissionSession:
		return SessionTTL
	default:
		return 0
	}
}

// ParseRiskLevel разбирает уровень риска из конфигурации или БД
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch r := RiskLevel(strings.ToLower(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return r, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// PermissionRequest описывает операцию, ожидающую авторизации
type PermissionRequest struct {
	ToolName             string            `json:"tool_name"`
	Action               string            `json:"action"`
	Description          string            `json:"description"`
	RiskLevel            RiskLevel         `json:"risk_level"`
	RequiredCapabilities []string          `json:"required_capabilities"`
	Parameters           map[string]string `json:"parameters,omitempty"`
	UserContext          string            `json:"user_context,omitempty"`
}

// Signature — детерминированный отпечаток (tool, action, risk).
// Параметры в сигнатуру не входят: грант на file_manager:read покрывает чтение любого пути.
func (r PermissionRequest) Signature() string {
	data := r.ToolName + ":" + r.Action + ":" + string(r.RiskLevel)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// PermissionGrant сохраненное решение по сигнатуре
type PermissionGrant struct {
	Signature string            `json:"signature"`
	Level     PermissionLevel   `json:"level"`
	GrantedAt time.Time         `json:"granted_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	GrantedBy string            `json:"granted_by"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewGrant вычисляет срок жизни по уровню и заполняет метаданные для аудита.
func NewGrant(req PermissionRequest, level PermissionLevel, now time.Time) PermissionGrant {
	g := PermissionGrant{
		Signature: req.Signature(),
		Level:     level,
		GrantedAt: now,
		GrantedBy: "user",
		Metadata: map[string]string{
			"tool_name":  req.ToolName,
			"action":     req.Action,
			"risk_level": string(req.RiskLevel),
		},
	}
	if ttl := level.TTL(); ttl > 0 {
		exp := now.Add(ttl)
		g.ExpiresAt = &exp
	}
	return g
}

// IsExpired: истек ли срок гранта на момент now
func (g PermissionGrant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// IsValid — грант действует и не является запретом
func (g PermissionGrant) IsValid(now time.Time) bool {
	return !g.IsExpired(now) && g.Level != PermissionDeny
}
