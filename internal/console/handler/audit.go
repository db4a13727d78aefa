package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/spaceai-assistant/internal/audit"
)

type AuditSource interface {
	GetAuditLog(limit int) []audit.AuditEvent
}

type AuditHandler struct {
	source AuditSource
}

func NewAuditHandler(s AuditSource) *AuditHandler {
	return &AuditHandler{source: s}
}

// GetLogs возвращает последние решения по разрешениям
// GET /v1/audit?limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, nonNil(h.source.GetAuditLog(limit)))
}
