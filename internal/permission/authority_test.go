package permission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-assistant/internal/audit"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/notify"
	"github.com/xela07ax/spaceai-assistant/internal/policy"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// replyNotifier сразу отвечает заданной строкой
type replyNotifier struct {
	response string
	sent     int
	mu       sync.Mutex
}

func (r *replyNotifier) SendPermissionNotification(_ context.Context, n notify.Notification, cb notify.ResponseFunc) error {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
	go cb(n.RequestID, r.response)
	return nil
}

// silentNotifier никогда не отвечает
type silentNotifier struct{}

func (silentNotifier) SendPermissionNotification(context.Context, notify.Notification, notify.ResponseFunc) error {
	return nil
}

type failingNotifier struct{}

func (failingNotifier) SendPermissionNotification(context.Context, notify.Notification, notify.ResponseFunc) error {
	return errors.New("ui unavailable")
}

type panicEnforcer struct{}

func (panicEnforcer) Evaluate(domain.PermissionRequest) policy.Verdict { panic("boom") }

type memStore struct {
	mu      sync.Mutex
	grants  map[string]domain.PermissionGrant
	saveErr error
}

func newMemStore() *memStore { return &memStore{grants: make(map[string]domain.PermissionGrant)} }

func (m *memStore) SaveGrant(_ context.Context, g domain.PermissionGrant) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[g.Signature] = g
	return nil
}

func (m *memStore) DeleteGrant(_ context.Context, sig string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, sig)
	return nil
}

func (m *memStore) LoadPermanent(context.Context) ([]domain.PermissionGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PermissionGrant, 0, len(m.grants))
	for _, g := range m.grants {
		out = append(out, g)
	}
	return out, nil
}

func newAuthority(n notify.Notifier, store GrantStore, timeout time.Duration) *Authority {
	return NewAuthority(Deps{
		Enforcer: policy.NewRiskEnforcer(nil),
		Store:    store,
		Notifier: n,
		Logger:   zap.NewNop(),
	}, timeout)
}

func lastEvent(t *testing.T, a *Authority) audit.AuditEvent {
	t.Helper()
	log := a.GetAuditLog(1)
	require.Len(t, log, 1)
	return log[0]
}

var (
	lowReq      = domain.PermissionRequest{ToolName: "file_manager", Action: "read", RiskLevel: domain.RiskLow}
	mediumReq   = domain.PermissionRequest{ToolName: "package_manager", Action: "list", RiskLevel: domain.RiskMedium}
	criticalReq = domain.PermissionRequest{ToolName: "system_control", Action: "shutdown", RiskLevel: domain.RiskCritical}
)

func TestRequestPermission_LowAutoApprovedThenCached(t *testing.T) {
	n := &replyNotifier{response: "deny"}
	a := newAuthority(n, nil, time.Second)
	ctx := context.Background()

	assert.Equal(t, domain.PermissionSession, a.RequestPermission(ctx, lowReq))
	assert.Equal(t, audit.OutcomeEvaluated, lastEvent(t, a).Outcome)

	// параметры в сигнатуру не входят
	withParams := lowReq
	withParams.Parameters = map[string]string{"path": "/etc/hosts"}
	assert.Equal(t, domain.PermissionSession, a.RequestPermission(ctx, withParams))
	ev := lastEvent(t, a)
	assert.Equal(t, audit.OutcomeCached, ev.Outcome)
	assert.Equal(t, `{"path":"/etc/hosts"}`, ev.Parameters)

	assert.Zero(t, n.sent, "low risk must not prompt")
	require.Len(t, a.ListPermissions(), 1)
}

func TestRequestPermission_PromptTimeoutDenies(t *testing.T) {
	a := newAuthority(silentNotifier{}, nil, 50*time.Millisecond)

	start := time.Now()
	level := a.RequestPermission(context.Background(), mediumReq)
	assert.Equal(t, domain.PermissionDeny, level)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ev := lastEvent(t, a)
	assert.Equal(t, audit.OutcomeEvaluated, ev.Outcome)
	assert.Equal(t, "deny", ev.Decision)
	assert.Equal(t, "prompt timeout", ev.Reason)
	assert.Empty(t, a.PendingRequests())
	assert.Empty(t, a.ListPermissions())
}

func TestRequestPermission_CriticalAlwaysPrompts(t *testing.T) {
	n := &replyNotifier{response: "allow_once"}
	a := newAuthority(n, nil, time.Second)

	assert.Equal(t, domain.PermissionOnce, a.RequestPermission(context.Background(), criticalReq))
	assert.Equal(t, 1, n.sent)
	assert.Equal(t, "user response: allow_once", lastEvent(t, a).Reason)
}

func TestRequestPermission_UnknownResponseIsDeny(t *testing.T) {
	a := newAuthority(&replyNotifier{response: "sure, why not"}, nil, time.Second)
	assert.Equal(t, domain.PermissionDeny, a.RequestPermission(context.Background(), criticalReq))
	assert.Empty(t, a.ListPermissions())
}

func TestRequestPermission_OnceExpiresAfterFiveMinutes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := &replyNotifier{response: "allow_once"}
	a := newAuthority(n, nil, time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	a.RequestPermission(ctx, criticalReq)
	a.RequestPermission(ctx, criticalReq)
	assert.Equal(t, 1, n.sent, "second call in window is cached")

	now = now.Add(domain.OnceTTL + time.Second)
	a.RequestPermission(ctx, criticalReq)
	assert.Equal(t, 2, n.sent)
}

func TestRequestPermission_NotifierFailureDenies(t *testing.T) {
	a := newAuthority(failingNotifier{}, nil, time.Second)
	assert.Equal(t, domain.PermissionDeny, a.RequestPermission(context.Background(), criticalReq))
	ev := lastEvent(t, a)
	assert.Equal(t, audit.OutcomeError, ev.Outcome)
	assert.Contains(t, ev.Reason, "ui unavailable")
}

func TestRequestPermission_PanicDenies(t *testing.T) {
	a := NewAuthority(Deps{Enforcer: panicEnforcer{}, Logger: zap.NewNop()}, time.Second)
	assert.Equal(t, domain.PermissionDeny, a.RequestPermission(context.Background(), lowReq))
	ev := lastEvent(t, a)
	assert.Equal(t, audit.OutcomeError, ev.Outcome)
	assert.Contains(t, ev.Reason, "boom")
}

func TestRequestPermission_PersistFailureDenies(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	a := newAuthority(&replyNotifier{response: "allow_permanent"}, store, time.Second)

	assert.Equal(t, domain.PermissionDeny, a.RequestPermission(context.Background(), criticalReq))
	assert.Empty(t, a.ListPermissions())
	assert.Equal(t, audit.OutcomeError, lastEvent(t, a).Outcome)
}

func TestPermanentGrant_PersistedAndReloaded(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	a := newAuthority(&replyNotifier{response: "allow_permanent"}, store, time.Second)
	require.Equal(t, domain.PermissionPermanent, a.RequestPermission(ctx, criticalReq))
	require.NoError(t, a.GrantPermission(ctx, mediumReq, domain.PermissionSession))
	assert.Len(t, store.grants, 1, "only permanent grants are stored")

	// "перезапуск": сессионные гранты теряются, постоянные подтягиваются
	restarted := newAuthority(silentNotifier{}, store, 10*time.Millisecond)
	require.NoError(t, restarted.Initialize(ctx))
	assert.Equal(t, domain.PermissionPermanent, restarted.RequestPermission(ctx, criticalReq))
	assert.Equal(t, domain.PermissionDeny, restarted.RequestPermission(ctx, mediumReq))

	assert.True(t, restarted.RevokePermission(ctx, criticalReq.Signature()))
	assert.False(t, restarted.RevokePermission(ctx, criticalReq.Signature()))
	assert.Empty(t, store.grants)
}

func TestHandleResponse_ExactlyOnce(t *testing.T) {
	local := notify.NewLocalNotifier()
	a := newAuthority(local, nil, 2*time.Second)

	result := make(chan domain.PermissionLevel, 1)
	go func() { result <- a.RequestPermission(context.Background(), criticalReq) }()

	require.Eventually(t, func() bool { return len(a.PendingRequests()) == 1 }, time.Second, 5*time.Millisecond)
	id := a.PendingRequests()[0].ID
	assert.Contains(t, id, "perm_")

	assert.True(t, a.HandleResponse(id, "allow_session"))
	assert.False(t, a.HandleResponse(id, "deny"))
	assert.False(t, a.HandleResponse("perm_unknown", "allow_session"))

	assert.Equal(t, domain.PermissionSession, <-result)
	assert.Empty(t, a.PendingRequests())
	// ответ пришел мимо notifier, его запись снимается по окончании ожидания
	require.Eventually(t, func() bool { return len(local.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

// recordingLocal запоминает id отправленных запросов
type recordingLocal struct {
	*notify.LocalNotifier
	mu  sync.Mutex
	ids []string
}

func (r *recordingLocal) SendPermissionNotification(ctx context.Context, n notify.Notification, cb notify.ResponseFunc) error {
	r.mu.Lock()
	r.ids = append(r.ids, n.RequestID)
	r.mu.Unlock()
	return r.LocalNotifier.SendPermissionNotification(ctx, n, cb)
}

func TestRequestPermission_TimeoutReleasesNotifierEntry(t *testing.T) {
	local := &recordingLocal{LocalNotifier: notify.NewLocalNotifier()}
	a := newAuthority(local, nil, 20*time.Millisecond)
	highReq := domain.PermissionRequest{ToolName: "package_manager", Action: "install", RiskLevel: domain.RiskHigh}

	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.PermissionDeny, a.RequestPermission(context.Background(), highReq))
		assert.Equal(t, "prompt timeout", lastEvent(t, a).Reason)
	}
	assert.Empty(t, a.PendingRequests())
	require.Eventually(t, func() bool { return len(local.Pending()) == 0 }, time.Second, 5*time.Millisecond)

	local.mu.Lock()
	defer local.mu.Unlock()
	require.Len(t, local.ids, 3)
	for _, id := range local.ids {
		assert.False(t, local.Respond(id, "allow_permanent"), id)
	}
}

func TestRequestPermission_ContextCancelled(t *testing.T) {
	a := newAuthority(silentNotifier{}, nil, 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.Equal(t, domain.PermissionDeny, a.RequestPermission(ctx, criticalReq))
	assert.Equal(t, "request cancelled", lastEvent(t, a).Reason)
}
