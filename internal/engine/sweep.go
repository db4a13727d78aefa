package engine

import (
	"context"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep переводит зависшие задачи в FAILED и выселяет их, а также выселяет
// завершенные задачи старше retention. Возвращает число таймаутов и выселений.
func (e *Engine) Sweep() (timedOut, evicted int) {
	now := e.clock()
	var events []domain.ProgressEvent
	var drop []string

	for _, tt := range e.snapshot() {
		tt.mu.Lock()
		t := tt.task
		switch {
		case t.Status.IsActive() && now.Sub(t.CreatedAt) > e.cfg.TaskTimeout:
			if err := e.setStatus(t, domain.TaskFailed); err == nil {
				if step := t.CurrentTaskStep(); step != nil && step.Status == domain.StepInProgress {
					step.Error = "task timed out"
				}
				events = append(events, t.ProgressEvent())
				drop = append(drop, t.ID)
				timedOut++
				e.logger.Warn("task timed out", zap.String("task_id", t.ID), zap.Duration("age", now.Sub(t.CreatedAt)))
			}
			tt.signal()
		case t.Status.IsTerminal() && t.CompletedAt != nil && now.Sub(*t.CompletedAt) > e.cfg.Retention:
			drop = append(drop, t.ID)
			evicted++
		}
		tt.mu.Unlock()
	}

	if len(drop) > 0 {
		e.mu.Lock()
		for _, id := range drop {
			delete(e.tasks, id)
		}
		e.mu.Unlock()
	}
	for _, ev := range events {
		e.notify(ev)
	}
	if timedOut+evicted > 0 {
		e.logger.Info("task sweep finished", zap.Int("timed_out", timedOut), zap.Int("evicted", evicted))
	}
	return timedOut, evicted
}
