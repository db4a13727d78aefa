package engine

import (
	"fmt"
	"sort"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

// ProgressFunc: подписчик прогресса. Ошибка или паника подписчика не влияет на других.
type ProgressFunc func(ev domain.ProgressEvent) error

// AddProgressCallback возвращает id для последующего RemoveProgressCallback
func (e *Engine) AddProgressCallback(fn ProgressFunc) int {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.nextCB++
	e.callbacks[e.nextCB] = fn
	return e.nextCB
}

func (e *Engine) RemoveProgressCallback(id int) bool {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	_, ok := e.callbacks[id]
	delete(e.callbacks, id)
	return ok
}

// notify вызывает подписчиков синхронно в порядке регистрации
func (e *Engine) notify(ev domain.ProgressEvent) {
	e.cbMu.RLock()
	ids := make([]int, 0, len(e.callbacks))
	for id := range e.callbacks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]ProgressFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.callbacks[id])
	}
	e.cbMu.RUnlock()

	for _, fn := range fns {
		if err := e.invoke(fn, ev); err != nil {
			e.metrics.CallbackFailures.Inc()
			e.logger.Warn("progress callback failed", zap.String("task_id", ev.TaskID), zap.Error(err))
		}
	}
}

func (e *Engine) invoke(fn ProgressFunc, ev domain.ProgressEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ev)
}
