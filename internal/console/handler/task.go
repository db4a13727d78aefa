package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/engine"
	"github.com/xela07ax/spaceai-assistant/internal/infra/auth"
)

// TaskService — то, что консоли нужно от движка задач
type TaskService interface {
	ProcessRequest(ctx context.Context, text string, reqCtx map[string]any, userID, sessionID string) engine.Response
	GetTaskStatus(id string) (*domain.Task, bool)
	ListTasks() []*domain.Task
	ListActiveTasks() []*domain.Task
	CancelTask(id string) bool
	PauseTask(id string) error
	ResumeTask(id string) error
}

type TaskHandler struct {
	service TaskService
}

func NewTaskHandler(s TaskService) *TaskHandler {
	return &TaskHandler{service: s}
}

type SubmitRequest struct {
	Text      string         `json:"text"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Context   map[string]any `json:"context"`
}

// Submit прогоняет запрос через цикл синхронно
// POST /v1/requests
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	// ID из токена сильнее, чем ID из тела
	userID := auth.UserIDFromContext(r.Context(), req.UserID)
	resp := h.service.ProcessRequest(r.Context(), req.Text, req.Context, userID, req.SessionID)
	writeJSON(w, http.StatusOK, resp)
}

// List: ?active=true, только незавершенные
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		writeJSON(w, http.StatusOK, nonNil(h.service.ListActiveTasks()))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.service.ListTasks()))
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, ok := h.service.GetTaskStatus(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrTaskNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.service.GetTaskStatus(id); !ok {
		writeError(w, http.StatusNotFound, domain.ErrTaskNotFound.Error())
		return
	}
	if !h.service.CancelTask(id) {
		writeError(w, http.StatusConflict, "task already finished")
		return
	}
	h.respondTask(w, id)
}

func (h *TaskHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.PauseTask(id); err != nil {
		writeTransitionError(w, err)
		return
	}
	h.respondTask(w, id)
}

func (h *TaskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.ResumeTask(id); err != nil {
		writeTransitionError(w, err)
		return
	}
	h.respondTask(w, id)
}

func (h *TaskHandler) respondTask(w http.ResponseWriter, id string) {
	task, ok := h.service.GetTaskStatus(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTaskTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
