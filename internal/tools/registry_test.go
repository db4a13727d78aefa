package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

type fixedChecker struct {
	level domain.PermissionLevel
	calls int
	last  domain.PermissionRequest
}

func (f *fixedChecker) RequestPermission(_ context.Context, req domain.PermissionRequest) domain.PermissionLevel {
	f.calls++
	f.last = req
	return f.level
}

func newEchoTool(calls *int32) Tool {
	return Tool{
		Name:        "echo",
		Description: "Echo parameters back",
		Category:    "debug",
		RiskLevel:   domain.RiskMedium,
		Parameters: []Parameter{
			{Name: "text", Type: TypeString, Required: true},
			{Name: "times", Type: TypeInteger, Default: 1},
			{Name: "mode", Type: TypeString, Enum: []any{"plain", "loud"}},
		},
		RequiredCapabilities: []string{"debug"},
		Handler: HandlerFunc(func(_ context.Context, call Call) (any, error) {
			atomic.AddInt32(calls, 1)
			return call.Params, nil
		}),
	}
}

func TestRegister_RejectsBadDescriptors(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	h := HandlerFunc(func(context.Context, Call) (any, error) { return nil, nil })

	assert.ErrorIs(t, r.Register(Tool{Name: "", Handler: h, RiskLevel: domain.RiskLow}), domain.ErrToolInvalid)
	assert.ErrorIs(t, r.Register(Tool{Name: "x", RiskLevel: domain.RiskLow}), domain.ErrToolInvalid)
	assert.ErrorIs(t, r.Register(Tool{Name: "x", Handler: h, RiskLevel: "extreme"}), domain.ErrToolInvalid)
	assert.ErrorIs(t, r.Register(Tool{Name: "x", Handler: h, RiskLevel: domain.RiskLow,
		Parameters: []Parameter{{Name: "p", Type: "uuid"}}}), domain.ErrToolInvalid)

	require.NoError(t, r.Register(Tool{Name: "x", Handler: h, RiskLevel: domain.RiskLow}))
	assert.ErrorIs(t, r.Register(Tool{Name: "x", Handler: h, RiskLevel: domain.RiskLow}), domain.ErrToolDuplicate)

	x, ok := r.Get("x")
	require.True(t, ok)
	assert.Equal(t, "general", x.Category)
	assert.True(t, r.Unregister("x"))
	assert.False(t, r.Unregister("x"))
}

func TestExecuteTool_Validation(t *testing.T) {
	var calls int32
	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, r.Register(newEchoTool(&calls)))
	checker := &fixedChecker{level: domain.PermissionSession}
	ctx := context.Background()

	// нет обязательного параметра
	resp := r.ExecuteTool(ctx, "echo", checker, Call{Params: map[string]any{}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "parameter validation failed")

	// неверный тип
	resp = r.ExecuteTool(ctx, "echo", checker, Call{Params: map[string]any{"text": 42}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "parameter validation failed")

	// вне enum
	resp = r.ExecuteTool(ctx, "echo", checker, Call{Params: map[string]any{"text": "hi", "mode": "whisper"}})
	assert.False(t, resp.Success)

	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Zero(t, checker.calls, "validation happens before authorization")

	resp = r.ExecuteTool(ctx, "echo", checker, Call{Params: map[string]any{"text": "hi"}})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 1, resp.Result.(map[string]any)["times"])
	assert.Equal(t, "execute_echo", checker.last.Action)
	assert.Equal(t, "Execute Echo parameters back", checker.last.Description)
	assert.Equal(t, "hi", checker.last.Parameters["text"])
}

func TestExecuteTool_DeniedNeverReachesHandler(t *testing.T) {
	var calls int32
	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, r.Register(newEchoTool(&calls)))

	checker := &fixedChecker{level: domain.PermissionDeny}
	resp := r.ExecuteTool(context.Background(), "echo", checker, Call{Action: "say", Params: map[string]any{"text": "hi"}})

	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresPermission)
	require.NotNil(t, resp.PermissionRequest)
	assert.Equal(t, "say", resp.PermissionRequest.Action)
	assert.Equal(t, domain.RiskMedium, resp.PermissionRequest.RiskLevel)
	assert.Contains(t, resp.Error, "permission denied")
	assert.Zero(t, atomic.LoadInt32(&calls))

	// без Authority инструмент с capabilities не исполняется
	resp = r.ExecuteTool(context.Background(), "echo", nil, Call{Params: map[string]any{"text": "hi"}})
	assert.True(t, resp.RequiresPermission)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestExecuteTool_UnknownDisabledAndFailing(t *testing.T) {
	ks := NewKillSwitch(nil, zap.NewNop())
	r := NewRegistry(ks, zap.NewNop())
	var calls int32
	require.NoError(t, r.Register(newEchoTool(&calls)))
	require.NoError(t, r.Register(Tool{
		Name: "broken", RiskLevel: domain.RiskLow,
		Handler: HandlerFunc(func(context.Context, Call) (any, error) { return nil, errors.New("disk on fire") }),
	}))
	require.NoError(t, r.Register(Tool{
		Name: "panicky", RiskLevel: domain.RiskLow,
		Handler: HandlerFunc(func(context.Context, Call) (any, error) { panic("nil map") }),
	}))
	ctx := context.Background()
	allow := &fixedChecker{level: domain.PermissionSession}

	assert.Equal(t, "tool 'nope' not found", r.ExecuteTool(ctx, "nope", allow, Call{}).Error)

	require.NoError(t, r.DisableTool(ctx, "echo"))
	assert.False(t, r.IsEnabled("echo"))
	assert.Contains(t, r.ExecuteTool(ctx, "echo", allow, Call{Params: map[string]any{"text": "x"}}).Error, "disabled")
	assert.Len(t, r.ListTools("", true), 2)
	assert.Len(t, r.GetToolSchemas(), 2)
	require.NoError(t, r.EnableTool(ctx, "echo"))
	assert.True(t, r.IsEnabled("echo"))

	resp := r.ExecuteTool(ctx, "broken", allow, Call{})
	assert.False(t, resp.Success)
	assert.Equal(t, "disk on fire", resp.Error)
	assert.Zero(t, allow.calls, "tools without capabilities skip authorization")

	resp = r.ExecuteTool(ctx, "panicky", allow, Call{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "nil map")

	assert.ErrorIs(t, r.DisableTool(ctx, "nope"), domain.ErrToolNotFound)
}

func TestRegistry_Discovery(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, RegisterBuiltins(r))

	assert.Equal(t, []string{"desktop", "files", "system"}, r.Categories())
	assert.Len(t, r.ListTools("system", false), 2)

	found := r.SearchTools("WINDOW")
	require.Len(t, found, 1)
	assert.Equal(t, "window_manager", found[0].Name)

	help, err := r.ToolHelp("package_manager")
	require.NoError(t, err)
	assert.Contains(t, help, "package (string, required)")
	assert.Contains(t, help, "one of")

	schemas := r.GetToolSchemas()
	require.Len(t, schemas, 4)
	assert.Equal(t, "file_manager", schemas[0].Name)
	assert.Equal(t, []string{"path"}, schemas[0].Parameters["required"])
}

func TestFileManager_Read(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("quarterly numbers"), 0o600))

	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, RegisterBuiltins(r))

	resp := r.ExecuteTool(context.Background(), "file_manager", &fixedChecker{level: domain.PermissionSession},
		Call{Action: "read", Params: map[string]any{"path": path}})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "quarterly numbers", resp.Result.(map[string]any)["content"])
}
