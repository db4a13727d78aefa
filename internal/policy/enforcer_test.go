package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

func TestRiskEnforcer_Evaluate(t *testing.T) {
	e := NewRiskEnforcer(nil)

	cases := []struct {
		name   string
		tool   string
		risk   domain.RiskLevel
		prompt bool
	}{
		{"low any tool", "package_manager", domain.RiskLow, false},
		{"medium trusted", "file_manager", domain.RiskMedium, false},
		{"medium untrusted", "package_manager", domain.RiskMedium, true},
		{"high trusted", "file_manager", domain.RiskHigh, true},
		{"critical trusted", "window_manager", domain.RiskCritical, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := e.Evaluate(domain.PermissionRequest{ToolName: tc.tool, Action: "x", RiskLevel: tc.risk})
			assert.Equal(t, tc.prompt, v.Prompt)
			if !tc.prompt {
				assert.Equal(t, domain.PermissionSession, v.Level)
			}
		})
	}
}

type stubRepo struct{ grants []domain.PermissionGrant }

func (s stubRepo) LoadPermanent(context.Context) ([]domain.PermissionGrant, error) {
	return s.grants, nil
}

func TestMemoEnforcer_LookupEvictsExpired(t *testing.T) {
	now := time.Now()
	m := NewMemoEnforcer(nil, zap.NewNop())
	req := domain.PermissionRequest{ToolName: "file_manager", Action: "read", RiskLevel: domain.RiskLow}

	m.Put(domain.NewGrant(req, domain.PermissionOnce, now))

	_, ok := m.Lookup(req.Signature(), now.Add(time.Minute))
	assert.True(t, ok)

	_, ok = m.Lookup(req.Signature(), now.Add(domain.OnceTTL+time.Second))
	assert.False(t, ok)
	assert.Empty(t, m.List(), "expired grant must be evicted")
}

func TestMemoEnforcer_Refresh(t *testing.T) {
	req := domain.PermissionRequest{ToolName: "system_control", Action: "shutdown", RiskLevel: domain.RiskCritical}
	g := domain.NewGrant(req, domain.PermissionPermanent, time.Now())

	m := NewMemoEnforcer(stubRepo{grants: []domain.PermissionGrant{g}}, zap.NewNop())
	require.NoError(t, m.Refresh(context.Background()))

	got, ok := m.Lookup(g.Signature, time.Now().Add(24*365*time.Hour))
	require.True(t, ok)
	assert.Equal(t, domain.PermissionPermanent, got.Level)
	assert.True(t, m.Delete(g.Signature))
	assert.False(t, m.Delete(g.Signature))
}
