package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/permission"
)

// PermissionService — операции Permission Authority, доступные оператору
type PermissionService interface {
	ListPermissions() []domain.PermissionGrant
	RevokePermission(ctx context.Context, signature string) bool
	PendingRequests() []permission.PendingRequest
	HandleResponse(requestID, response string) bool
}

type PermissionHandler struct {
	service PermissionService
}

func NewPermissionHandler(s PermissionService) *PermissionHandler {
	return &PermissionHandler{service: s}
}

func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.service.ListPermissions()))
}

// Revoke: DELETE /v1/permissions/{signature}
func (h *PermissionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	sig := chi.URLParam(r, "signature")
	if !h.service.RevokePermission(r.Context(), sig) {
		writeError(w, http.StatusNotFound, "grant not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pending запросы, ожидающие ответа пользователя
func (h *PermissionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.service.PendingRequests()))
}

type RespondRequest struct {
	Response string `json:"response"` // deny / allow_once / allow_session / allow_permanent
}

// Respond доставляет решение пользователя в ожидающий запрос.
// Неизвестная строка ответа трактуется как deny.
func (h *PermissionHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.service.HandleResponse(id, req.Response) {
		writeError(w, http.StatusNotFound, "prompt not found or already answered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": id,
		"decision":   string(domain.ParsePermissionLevel(req.Response)),
	})
}
