package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/tools"
)

type ToolService interface {
	ListTools(category string, enabledOnly bool) []tools.Tool
	ToolHelp(name string) (string, error)
	EnableTool(ctx context.Context, name string) error
	DisableTool(ctx context.Context, name string) error
	IsEnabled(name string) bool
}

type ToolHandler struct {
	service ToolService
}

func NewToolHandler(s ToolService) *ToolHandler {
	return &ToolHandler{service: s}
}

type toolView struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Category     string            `json:"category"`
	RiskLevel    domain.RiskLevel  `json:"risk_level"`
	Capabilities []string          `json:"required_capabilities,omitempty"`
	Parameters   []tools.Parameter `json:"parameters"`
	Enabled      bool              `json:"enabled"`
}

// List: GET /v1/tools?category=...&enabled=true
func (h *ToolHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := h.service.ListTools(q.Get("category"), q.Get("enabled") == "true")
	out := make([]toolView, 0, len(list))
	for _, t := range list {
		out = append(out, toolView{
			Name:         t.Name,
			Description:  t.Description,
			Category:     t.Category,
			RiskLevel:    t.RiskLevel,
			Capabilities: t.RequiredCapabilities,
			Parameters:   nonNil(t.Parameters),
			Enabled:      h.service.IsEnabled(t.Name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ToolHandler) Help(w http.ResponseWriter, r *http.Request) {
	help, err := h.service.ToolHelp(chi.URLParam(r, "name"))
	if err != nil {
		writeToolError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(help))
}

// Disable: kill switch: изменение видят все узлы через Redis
func (h *ToolHandler) Disable(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DisableTool(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeToolError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ToolHandler) Enable(w http.ResponseWriter, r *http.Request) {
	if err := h.service.EnableTool(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeToolError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeToolError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrToolNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
