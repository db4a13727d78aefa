// Package engine — цикл задач Observe -> Orient -> Decide -> Act -> Check.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"github.com/xela07ax/spaceai-assistant/internal/llm"
	"github.com/xela07ax/spaceai-assistant/internal/memory"
	"github.com/xela07ax/spaceai-assistant/internal/tools"
	"go.uber.org/zap"
)

type Config struct {
	SweepInterval         time.Duration
	TaskTimeout           time.Duration
	Retention             time.Duration
	MaxRetries            int
	HistoryWindow         int
	MemoryLimit           int
	PlanningWordThreshold int
}

func (c *Config) setDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = domain.DefaultMaxRetries
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 5
	}
	if c.PlanningWordThreshold <= 0 {
		c.PlanningWordThreshold = 20
	}
}

// ToolRegistry то, что движку нужно от реестра возможностей
type ToolRegistry interface {
	Get(name string) (tools.Tool, bool)
	GetToolSchemas() []domain.ToolSchema
	ExecuteTool(ctx context.Context, name string, checker tools.PermissionChecker, call tools.Call) domain.ToolResponse
}

// Deps: коллабораторы движка. Memory и Metrics могут быть nil.
type Deps struct {
	LLM       llm.Provider
	Memory    memory.Provider
	Tools     ToolRegistry
	Authority tools.PermissionChecker
	Metrics   *infra.Metrics
	Logger    *zap.Logger
}

// trackedTask — задача плюс ее собственная блокировка.
// wake будит цикл Act, запаркованный на паузе.
type trackedTask struct {
	mu   sync.Mutex
	task *domain.Task
	wake chan struct{}
}

func (tt *trackedTask) signal() {
	select {
	case tt.wake <- struct{}{}:
	default:
	}
}

type Engine struct {
	cfg       Config
	llm       llm.Provider
	memory    memory.Provider
	tools     ToolRegistry
	authority tools.PermissionChecker
	metrics   *infra.Metrics
	logger    *zap.Logger
	clock     func() time.Time

	mu    sync.RWMutex
	tasks map[string]*trackedTask

	cbMu      sync.RWMutex
	callbacks map[int]ProgressFunc
	nextCB    int

	stopOnce sync.Once
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

func NewEngine(cfg Config, deps Deps) *Engine {
	cfg.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mem := deps.Memory
	if mem == nil {
		mem = memory.Nop{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Engine{
		cfg:       cfg,
		llm:       deps.LLM,
		memory:    mem,
		tools:     deps.Tools,
		authority: deps.Authority,
		metrics:   metrics,
		logger:    logger.Named("engine"),
		clock:     time.Now,
		tasks:     make(map[string]*trackedTask),
		callbacks: make(map[int]ProgressFunc),
	}
}

// WithClock подменяет часы (таймауты и retention в тестах)
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Start запускает периодическую очистку. Останавливается через Shutdown или отмену ctx.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	e.wg.Add(1)
	go e.sweepLoop(ctx)
	e.logger.Info("task engine started", zap.Duration("sweep_interval", e.cfg.SweepInterval))
}

// Shutdown отменяет все активные задачи и ждет остановки фоновой очистки.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		if e.stop != nil {
			e.stop()
		}
		e.wg.Wait()

		cancelled := 0
		for _, tt := range e.snapshot() {
			if e.cancelTracked(tt) {
				cancelled++
			}
		}
		e.logger.Info("task engine stopped", zap.Int("cancelled", cancelled))
	})
}

func (e *Engine) register(t *domain.Task) *trackedTask {
	tt := &trackedTask{task: t, wake: make(chan struct{}, 1)}
	e.mu.Lock()
	e.tasks[t.ID] = tt
	e.mu.Unlock()
	e.metrics.ActiveTasks.Inc()
	return tt
}

func (e *Engine) lookup(id string) (*trackedTask, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tt, ok := e.tasks[id]
	return tt, ok
}

func (e *Engine) snapshot() []*trackedTask {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*trackedTask, 0, len(e.tasks))
	for _, tt := range e.tasks {
		out = append(out, tt)
	}
	return out
}

// setStatus вызывается под tt.mu
func (e *Engine) setStatus(t *domain.Task, next domain.TaskStatus) error {
	if err := t.Status.CanTransitionTo(next); err != nil {
		return err
	}
	now := e.clock()
	t.Status = next
	switch {
	case next == domain.TaskExecuting && t.StartedAt == nil:
		t.StartedAt = &now
	case next.IsTerminal():
		t.CompletedAt = &now
		e.metrics.ActiveTasks.Dec()
		e.metrics.TasksTotal.WithLabelValues(string(next)).Inc()
	}
	return nil
}

// GetTaskStatus возвращает снимок задачи
func (e *Engine) GetTaskStatus(id string) (*domain.Task, bool) {
	tt, ok := e.lookup(id)
	if !ok {
		return nil, false
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.task.Clone(), true
}

// ListActiveTasks PLANNING/EXECUTING/PAUSED задачи по времени создания
func (e *Engine) ListActiveTasks() []*domain.Task {
	var out []*domain.Task
	for _, tt := range e.snapshot() {
		tt.mu.Lock()
		if tt.task.Status.IsActive() {
			out = append(out, tt.task.Clone())
		}
		tt.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListTasks: все отслеживаемые задачи, включая завершенные в пределах retention
func (e *Engine) ListTasks() []*domain.Task {
	var out []*domain.Task
	for _, tt := range e.snapshot() {
		tt.mu.Lock()
		out = append(out, tt.task.Clone())
		tt.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CancelTask идемпотентен: true, если задача теперь CANCELLED.
// Уже отправленный шаг дорабатывает, следующие не планируются.
func (e *Engine) CancelTask(id string) bool {
	tt, ok := e.lookup(id)
	if !ok {
		return false
	}
	e.cancelTracked(tt)

	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.task.Status == domain.TaskCancelled
}

func (e *Engine) cancelTracked(tt *trackedTask) bool {
	tt.mu.Lock()
	if err := e.setStatus(tt.task, domain.TaskCancelled); err != nil {
		tt.mu.Unlock()
		return false
	}
	ev := tt.task.ProgressEvent()
	id := tt.task.ID
	tt.mu.Unlock()

	tt.signal()
	e.logger.Info("task cancelled", zap.String("task_id", id))
	e.notify(ev)
	return true
}

// PauseTask паркует цикл Act между шагами
func (e *Engine) PauseTask(id string) error {
	return e.transitionTracked(id, domain.TaskPaused)
}

// ResumeTask продолжает запаркованную задачу
func (e *Engine) ResumeTask(id string) error {
	tt, ok := e.lookup(id)
	if !ok {
		return domain.ErrTaskNotFound
	}
	tt.mu.Lock()
	if tt.task.Status != domain.TaskPaused {
		tt.mu.Unlock()
		return domain.ErrInvalidTaskTransition
	}
	tt.mu.Unlock()

	if err := e.transitionTracked(id, domain.TaskExecuting); err != nil {
		return err
	}
	tt.signal()
	return nil
}

func (e *Engine) transitionTracked(id string, next domain.TaskStatus) error {
	tt, ok := e.lookup(id)
	if !ok {
		return domain.ErrTaskNotFound
	}
	tt.mu.Lock()
	if err := e.setStatus(tt.task, next); err != nil {
		tt.mu.Unlock()
		return err
	}
	ev := tt.task.ProgressEvent()
	tt.mu.Unlock()

	e.logger.Info("task status changed", zap.String("task_id", id), zap.String("status", string(next)))
	e.notify(ev)
	return nil
}
