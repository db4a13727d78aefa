package audit

import (
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"
)

// Outcome — каким путем принято решение
const (
	OutcomeCached    = "cached"
	OutcomeEvaluated = "evaluated"
	OutcomeError     = "error"
	OutcomeRevoked   = "revoked"
)

// AuditEvent неизменяемая запись о каждом решении по разрешению
type AuditEvent struct {
	ID          string    `json:"id"`        // UUID события
	TraceID     string    `json:"trace_id"`  // Сквозной ID запроса
	Signature   string    `json:"signature"` // Отпечаток tool:action:risk
	ToolName    string    `json:"tool_name"`
	Action      string    `json:"action"`
	RiskLevel   string    `json:"risk_level"`
	Parameters  string    `json:"parameters,omitempty"` // Канонический JSON (RFC 8785)
	Decision    string    `json:"decision"`             // deny / allow_once / ... / error
	Outcome     string    `json:"outcome"`              // cached / evaluated / error
	Reason      string    `json:"reason"`
	UserContext string    `json:"user_context,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CanonicalParams сериализует параметры детерминированно, чтобы строки аудита
// с одинаковыми параметрами совпадали побайтно.
func CanonicalParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return string(raw)
	}
	return string(canon)
}
