package policy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

type GrantRepository interface {
	LoadPermanent(ctx context.Context) ([]domain.PermissionGrant, error)
}

// MemoEnforcer: In-memory кэш выданных разрешений: signature -> grant.
// В рантайме Authority обращается только к памяти, БД нужна для Refresh() на старте.
type MemoEnforcer struct {
	mu     sync.RWMutex
	grants map[string]domain.PermissionGrant

	repo   GrantRepository // Используется только для Refresh(), может быть nil
	logger *zap.Logger
}

func NewMemoEnforcer(repo GrantRepository, logger *zap.Logger) *MemoEnforcer {
	return &MemoEnforcer{
		grants: make(map[string]domain.PermissionGrant),
		repo:   repo,
		logger: logger.Named("grants"),
	}
}

// Lookup — "Hot Path". Истекший грант сразу выбрасывается из кэша.
func (e *MemoEnforcer) Lookup(signature string, now time.Time) (domain.PermissionGrant, bool) {
	e.mu.RLock()
	g, ok := e.grants[signature]
	e.mu.RUnlock()
	if !ok {
		return domain.PermissionGrant{}, false
	}
	if g.IsValid(now) {
		return g, true
	}

	e.mu.Lock()
	// повторная проверка: грант могли перевыдать между RUnlock и Lock
	if cur, ok := e.grants[signature]; ok && !cur.IsValid(now) {
		delete(e.grants, signature)
	}
	e.mu.Unlock()
	return domain.PermissionGrant{}, false
}

// Put заменяет грант с той же подписью
func (e *MemoEnforcer) Put(g domain.PermissionGrant) {
	e.mu.Lock()
	e.grants[g.Signature] = g
	e.mu.Unlock()
}

// Delete возвращает true, если грант был в кэше
func (e *MemoEnforcer) Delete(signature string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.grants[signature]
	delete(e.grants, signature)
	return ok
}

// List снимок всех грантов, отсортированный по подписи
func (e *MemoEnforcer) List() []domain.PermissionGrant {
	e.mu.RLock()
	out := make([]domain.PermissionGrant, 0, len(e.grants))
	for _, g := range e.grants {
		out = append(out, g)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}

// Refresh выполняет «холодную загрузку» постоянных грантов из хранилища.
// Гранты текущей сессии не трогаем.
func (e *MemoEnforcer) Refresh(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	stored, err := e.repo.LoadPermanent(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, g := range stored {
		e.grants[g.Signature] = g
	}
	e.mu.Unlock()

	e.logger.Info("grant cache refreshed", zap.Int("permanent", len(stored)))
	return nil
}
