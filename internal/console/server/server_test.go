package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-assistant/internal/audit"
	"github.com/xela07ax/spaceai-assistant/internal/console/handler"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/engine"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"github.com/xela07ax/spaceai-assistant/internal/permission"
	"github.com/xela07ax/spaceai-assistant/internal/tools"
	"go.uber.org/zap"
)

type fakeTasks struct {
	tasks    map[string]*domain.Task
	lastUser string
}

func (f *fakeTasks) ProcessRequest(_ context.Context, text string, _ map[string]any, userID, _ string) engine.Response {
	f.lastUser = userID
	return engine.Response{Text: "echo: " + text, TaskID: "t1", TaskStatus: domain.TaskCompleted, Progress: 1}
}

func (f *fakeTasks) GetTaskStatus(id string) (*domain.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeTasks) ListTasks() []*domain.Task {
	var out []*domain.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out
}

func (f *fakeTasks) ListActiveTasks() []*domain.Task { return nil }

func (f *fakeTasks) CancelTask(id string) bool {
	t, ok := f.tasks[id]
	if !ok || t.Status.IsTerminal() && t.Status != domain.TaskCancelled {
		return false
	}
	t.Status = domain.TaskCancelled
	return true
}

func (f *fakeTasks) PauseTask(id string) error {
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if err := t.Status.CanTransitionTo(domain.TaskPaused); err != nil {
		return err
	}
	t.Status = domain.TaskPaused
	return nil
}

func (f *fakeTasks) ResumeTask(id string) error {
	if _, ok := f.tasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	return domain.ErrInvalidTaskTransition
}

type fakePermissions struct {
	grants    []domain.PermissionGrant
	responses map[string]string
}

func (f *fakePermissions) ListPermissions() []domain.PermissionGrant { return f.grants }

func (f *fakePermissions) RevokePermission(_ context.Context, sig string) bool {
	for i, g := range f.grants {
		if g.Signature == sig {
			f.grants = append(f.grants[:i], f.grants[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakePermissions) PendingRequests() []permission.PendingRequest {
	return []permission.PendingRequest{{ID: "perm_1", Request: domain.PermissionRequest{ToolName: "package_manager"}}}
}

func (f *fakePermissions) HandleResponse(id, resp string) bool {
	if id != "perm_1" {
		return false
	}
	f.responses[id] = resp
	return true
}

type fakeAudit struct{ limit int }

func (f *fakeAudit) GetAuditLog(limit int) []audit.AuditEvent {
	f.limit = limit
	return []audit.AuditEvent{{ID: "a1", ToolName: "file_manager", Decision: "allow_session"}}
}

type staticValidator struct{}

func (staticValidator) VerifyToken(token string) (*domain.CustomClaims, error) {
	switch strings.TrimPrefix(token, "Bearer ") {
	case "tasks":
		return &domain.CustomClaims{UserID: "alice", Scopes: map[string]bool{domain.ScopeTasks: true}}, nil
	case "admin":
		return &domain.CustomClaims{UserID: "root", Scopes: map[string]bool{domain.ScopeAdmin: true}}, nil
	}
	return nil, errors.New("bad token")
}

type fixture struct {
	srv   *ConsoleServer
	tasks *fakeTasks
	perms *fakePermissions
	audit *fakeAudit
}

func newFixture(t *testing.T, v bool) *fixture {
	t.Helper()
	now := time.Now()
	f := &fixture{
		tasks: &fakeTasks{tasks: map[string]*domain.Task{
			"running": {ID: "running", Status: domain.TaskExecuting, CreatedAt: now},
			"done":    {ID: "done", Status: domain.TaskCompleted, CreatedAt: now},
		}},
		perms: &fakePermissions{
			grants:    []domain.PermissionGrant{{Signature: "abc", Level: domain.PermissionPermanent}},
			responses: map[string]string{},
		},
		audit: &fakeAudit{},
	}

	reg := tools.NewRegistry(nil, zap.NewNop())
	require.NoError(t, tools.RegisterBuiltins(reg))
	promReg := prometheus.NewRegistry()
	infra.NewMetrics(promReg)

	deps := Deps{
		Tasks:       handler.NewTaskHandler(f.tasks),
		Permissions: handler.NewPermissionHandler(f.perms),
		Tools:       handler.NewToolHandler(reg),
		Audit:       handler.NewAuditHandler(f.audit),
		Gatherer:    promReg,
		Logger:      zap.NewNop(),
	}
	if v {
		deps.Validator = staticValidator{}
	}
	f.srv = NewConsoleServer(deps)
	return f
}

func (f *fixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = f.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assistant_")
}

func TestSubmitRequest(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodPost, "/v1/requests", `{"text": "hello", "user_id": "bob"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp engine.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "echo: hello", resp.Text)
	assert.Equal(t, "bob", f.tasks.lastUser)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/requests", `{"text": ""}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/requests", `not json`, "").Code)
}

func TestTaskLifecycleRoutes(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/v1/tasks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = f.do(http.MethodGet, "/v1/tasks?active=true", "", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/tasks/running", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/tasks/missing", "", "").Code)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/tasks/running/pause", "", "").Code)
	assert.Equal(t, domain.TaskPaused, f.tasks.tasks["running"].Status)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/v1/tasks/running/resume", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/tasks/missing/resume", "", "").Code)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/tasks/running/cancel", "", "").Code)
	assert.Equal(t, domain.TaskCancelled, f.tasks.tasks["running"].Status)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/v1/tasks/done/cancel", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/tasks/missing/cancel", "", "").Code)
}

func TestPermissionRoutes(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/v1/permissions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"signature":"abc"`)

	rec = f.do(http.MethodGet, "/v1/permissions/pending", "", "")
	assert.Contains(t, rec.Body.String(), "perm_1")

	rec = f.do(http.MethodPost, "/v1/permissions/prompts/perm_1/respond", `{"response": "allow_session"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"decision":"allow_session"`)
	assert.Equal(t, "allow_session", f.perms.responses["perm_1"])

	rec = f.do(http.MethodPost, "/v1/permissions/prompts/perm_1/respond", `{"response": "sure thing"}`, "")
	assert.Contains(t, rec.Body.String(), `"decision":"deny"`)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/permissions/prompts/perm_9/respond", `{"response": "deny"}`, "").Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/v1/permissions/abc", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/v1/permissions/abc", "", "").Code)
}

func TestAuditRoute(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/v1/audit?limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.audit.limit)
	assert.Contains(t, rec.Body.String(), "file_manager")

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/audit?limit=-1", "", "").Code)
}

func TestToolRoutes(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/v1/tools?category=system", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "system_control")
	assert.NotContains(t, rec.Body.String(), "file_manager")

	rec = f.do(http.MethodGet, "/v1/tools/package_manager", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "package (string, required)")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/tools/nope", "", "").Code)
	// без kill-switch отключение недоступно
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/v1/tools/file_manager/disable", "", "").Code)
}

func TestAuthScopes(t *testing.T) {
	f := newFixture(t, true)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/tasks", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/tasks", "", "forged").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/tasks", "", "tasks").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/v1/permissions", "", "tasks").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/v1/audit", "", "tasks").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/audit", "", "admin").Code)

	// ID пользователя берется из токена, а не из тела
	rec := f.do(http.MethodPost, "/v1/requests", `{"text": "hi", "user_id": "mallory"}`, "tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", f.tasks.lastUser)

	// health открыт всегда
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "", "").Code)
}
