// Package permission, центральная точка авторизации вызовов инструментов.
package permission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/audit"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"github.com/xela07ax/spaceai-assistant/internal/notify"
	"github.com/xela07ax/spaceai-assistant/internal/policy"
	"go.uber.org/zap"
)

// DefaultPromptTimeout — сколько ждем ответа пользователя до DENY
const DefaultPromptTimeout = 30 * time.Second

// GrantStore долговременное хранилище, пишутся только ALLOW_PERMANENT.
type GrantStore interface {
	SaveGrant(ctx context.Context, g domain.PermissionGrant) error
	DeleteGrant(ctx context.Context, signature string) error
	LoadPermanent(ctx context.Context) ([]domain.PermissionGrant, error)
}

// Deps: коллабораторы Authority. Store и Metrics могут быть nil.
type Deps struct {
	Enforcer policy.Enforcer
	Store    GrantStore
	Notifier notify.Notifier
	Trail    *audit.Trail
	Metrics  *infra.Metrics
	Logger   *zap.Logger
}

type Authority struct {
	enforcer policy.Enforcer
	grants   *policy.MemoEnforcer
	store    GrantStore
	notifier notify.Notifier
	trail    *audit.Trail
	metrics  *infra.Metrics
	logger   *zap.Logger

	timeout time.Duration
	clock   func() time.Time

	mu      sync.Mutex
	pending map[string]*prompt
}

// NewAuthority создает Authority. timeout <= 0 заменяется на DefaultPromptTimeout.
func NewAuthority(deps Deps, timeout time.Duration) *Authority {
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	trail := deps.Trail
	if trail == nil {
		trail = audit.NewTrail(audit.DefaultRingSize, nil)
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	enforcer := deps.Enforcer
	if enforcer == nil {
		enforcer = policy.NewRiskEnforcer(nil)
	}

	a := &Authority{
		enforcer: enforcer,
		store:    deps.Store,
		notifier: deps.Notifier,
		trail:    trail,
		metrics:  metrics,
		logger:   logger.Named("authority"),
		timeout:  timeout,
		clock:    time.Now,
		pending:  make(map[string]*prompt),
	}
	var repo policy.GrantRepository
	if deps.Store != nil {
		repo = deps.Store
	}
	a.grants = policy.NewMemoEnforcer(repo, a.logger)
	return a
}

// WithClock подменяет часы (для сроков грантов в тестах)
func (a *Authority) WithClock(clock func() time.Time) *Authority {
	a.clock = clock
	return a
}

// Initialize загружает постоянные гранты из хранилища в кэш.
func (a *Authority) Initialize(ctx context.Context) error {
	if err := a.grants.Refresh(ctx); err != nil {
		return fmt.Errorf("load permanent grants: %w", err)
	}
	return nil
}

// RequestPermission никогда не возвращает ошибку: любой сбой превращается в DENY с записью в аудит.
func (a *Authority) RequestPermission(ctx context.Context, req domain.PermissionRequest) (level domain.PermissionLevel) {
	sig := req.Signature()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during permission evaluation", zap.String("signature", sig), zap.Any("panic", r))
			level = domain.PermissionDeny
			a.record(ctx, req, level, audit.OutcomeError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// 1. Fast Path: кэш
	if g, ok := a.grants.Lookup(sig, a.clock()); ok {
		a.record(ctx, req, g.Level, audit.OutcomeCached, "cached grant")
		return g.Level
	}

	// 2-3. Статическая политика (CRITICAL всегда уходит в промпт)
	verdict := a.enforcer.Evaluate(req)
	if verdict.Prompt {
		var reason string
		var err error
		level, reason, err = a.prompt(ctx, req)
		if err != nil {
			a.logger.Warn("permission prompt failed", zap.String("signature", sig), zap.Error(err))
			a.record(ctx, req, domain.PermissionDeny, audit.OutcomeError, reason)
			return domain.PermissionDeny
		}
		verdict.Level = level
		verdict.Reason = reason
	}

	// 4. Запоминаем не-DENY решение
	if verdict.Level != domain.PermissionDeny {
		if err := a.GrantPermission(ctx, req, verdict.Level); err != nil {
			a.logger.Error("failed to persist grant", zap.String("signature", sig), zap.Error(err))
			a.record(ctx, req, domain.PermissionDeny, audit.OutcomeError, "persist grant: "+err.Error())
			return domain.PermissionDeny
		}
	}

	a.record(ctx, req, verdict.Level, audit.OutcomeEvaluated, verdict.Reason)
	return verdict.Level
}

// GrantPermission кладет грант в кэш сессии, ALLOW_PERMANENT дополнительно пишет в хранилище.
// При ошибке записи грант в кэше не остается.
func (a *Authority) GrantPermission(ctx context.Context, req domain.PermissionRequest, level domain.PermissionLevel) error {
	if level == domain.PermissionDeny {
		return nil
	}
	g := domain.NewGrant(req, level, a.clock())

	if level == domain.PermissionPermanent && a.store != nil {
		if err := a.store.SaveGrant(ctx, g); err != nil {
			return err
		}
	}
	a.grants.Put(g)

	a.logger.Info("permission granted",
		zap.String("signature", g.Signature),
		zap.String("tool", req.ToolName),
		zap.String("action", req.Action),
		zap.String("level", string(level)),
	)
	return nil
}

// RevokePermission удаляет грант из кэша и хранилища
func (a *Authority) RevokePermission(ctx context.Context, signature string) bool {
	removed := a.grants.Delete(signature)
	if a.store != nil {
		if err := a.store.DeleteGrant(ctx, signature); err != nil {
			a.logger.Error("failed to delete stored grant", zap.String("signature", signature), zap.Error(err))
		}
	}
	if removed {
		a.trail.Record(audit.AuditEvent{
			TraceID:   infra.TraceIDFromContext(ctx),
			Signature: signature,
			Decision:  string(domain.PermissionDeny),
			Outcome:   audit.OutcomeRevoked,
			Reason:    "revoked",
		})
		a.logger.Info("permission revoked", zap.String("signature", signature))
	}
	return removed
}

// ListPermissions — только действующие гранты, по подписи
func (a *Authority) ListPermissions() []domain.PermissionGrant {
	now := a.clock()
	all := a.grants.List()
	out := all[:0]
	for _, g := range all {
		if g.IsValid(now) {
			out = append(out, g)
		}
	}
	return out
}

// GetAuditLog последние события журнала
func (a *Authority) GetAuditLog(limit int) []audit.AuditEvent {
	return a.trail.Recent(limit)
}

func (a *Authority) record(ctx context.Context, req domain.PermissionRequest, level domain.PermissionLevel, outcome, reason string) {
	a.trail.Record(audit.AuditEvent{
		TraceID:     infra.TraceIDFromContext(ctx),
		Signature:   req.Signature(),
		ToolName:    req.ToolName,
		Action:      req.Action,
		RiskLevel:   string(req.RiskLevel),
		Parameters:  audit.CanonicalParams(req.Parameters),
		Decision:    string(level),
		Outcome:     outcome,
		Reason:      reason,
		UserContext: req.UserContext,
		Timestamp:   a.clock(),
	})
	a.metrics.PermissionDecisions.WithLabelValues(string(level), outcome).Inc()
}

// PendingRequest: снимок ожидающего промпта для консоли
type PendingRequest struct {
	ID        string                   `json:"id"`
	Request   domain.PermissionRequest `json:"request"`
	CreatedAt time.Time                `json:"created_at"`
	ExpiresAt time.Time                `json:"expires_at"`
}

// PendingRequests — промпты, на которые пользователь еще не ответил, от старых к новым
func (a *Authority) PendingRequests() []PendingRequest {
	a.mu.Lock()
	out := make([]PendingRequest, 0, len(a.pending))
	for id, p := range a.pending {
		out = append(out, PendingRequest{ID: id, Request: p.req, CreatedAt: p.createdAt, ExpiresAt: p.createdAt.Add(a.timeout)})
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
