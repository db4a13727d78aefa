package domain

import (
	"errors"
	"time"
)

// TaskStatus состояния конечного автомата задачи
type TaskStatus string

const (
	TaskPlanning  TaskStatus = "planning"
	TaskExecuting TaskStatus = "executing"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// StepStatus: состояния шага плана
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// DefaultMaxRetries — сколько раз шаг перезапускается на месте до перевода задачи в FAILED
const DefaultMaxRetries = 3

var ErrInvalidTaskTransition = errors.New("invalid task status transition")

// IsTerminal COMPLETED, FAILED и CANCELLED больше не меняются
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// IsActive: задача еще может планировать или исполнять шаги
func (s TaskStatus) IsActive() bool {
	return s == TaskPlanning || s == TaskExecuting || s == TaskPaused
}

// CanTransitionTo проверяет правила конечного автомата задачи.
// PLANNING -> EXECUTING -> {COMPLETED|FAILED}; CANCELLED/PAUSED из любого активного состояния.
func (s TaskStatus) CanTransitionTo(next TaskStatus) error {
	if s.IsTerminal() {
		return ErrInvalidTaskTransition
	}
	switch next {
	case TaskExecuting:
		if s == TaskPlanning || s == TaskPaused {
			return nil
		}
	case TaskPaused:
		if s == TaskPlanning || s == TaskExecuting {
			return nil
		}
	case TaskCancelled, TaskFailed:
		return nil
	case TaskCompleted:
		if s == TaskExecuting {
			return nil
		}
	}
	return ErrInvalidTaskTransition
}

// TaskStep — один вызов инструмента из плана
type TaskStep struct {
	ID          string         `json:"id"`
	ToolName    string         `json:"tool_name"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
	Status      StepStatus     `json:"status"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
}

// CanRetry остались ли попытки у упавшего шага
func (s *TaskStep) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

// ResetForRetry возвращает FAILED шаг в PENDING и увеличивает счетчик попыток.
func (s *TaskStep) ResetForRetry() {
	s.RetryCount++
	s.Status = StepPending
	s.Error = ""
	s.Result = nil
	s.CompletedAt = nil
}

// SkipRemaining помечает SKIPPED шаги, до которых исполнение не дошло
func (t *Task) SkipRemaining() int {
	n := 0
	for _, s := range t.Steps {
		if s.Status == StepPending {
			s.Status = StepSkipped
			n++
		}
	}
	return n
}

// Task: одна пользовательская просьба, разложенная на шаги
type Task struct {
	ID          string         `json:"id"`
	UserRequest string         `json:"user_request"`
	Description string         `json:"description"`
	Steps       []*TaskStep    `json:"steps"`
	Status      TaskStatus     `json:"status"`
	CurrentStep int            `json:"current_step"`
	Context     map[string]any `json:"context,omitempty"`
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Progress = завершенные шаги / все шаги, всегда в [0,1]
func (t *Task) Progress() float64 {
	if len(t.Steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range t.Steps {
		if s.Status == StepCompleted {
			done++
		}
	}
	return float64(done) / float64(len(t.Steps))
}

// CurrentTaskStep возвращает исполняемый шаг или nil, если план пройден
func (t *Task) CurrentTaskStep() *TaskStep {
	if t.CurrentStep >= 0 && t.CurrentStep < len(t.Steps) {
		return t.Steps[t.CurrentStep]
	}
	return nil
}

// Clone делает снимок задачи, безопасный для чтения вне блокировки движка.
func (t *Task) Clone() *Task {
	c := *t
	c.Steps = make([]*TaskStep, len(t.Steps))
	for i, s := range t.Steps {
		sc := *s
		sc.Parameters = cloneMap(s.Parameters)
		sc.StartedAt = cloneTime(s.StartedAt)
		sc.CompletedAt = cloneTime(s.CompletedAt)
		c.Steps[i] = &sc
	}
	c.Context = cloneMap(t.Context)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

// ProgressEvent — компактная запись для подписчиков прогресса
type ProgressEvent struct {
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Progress    float64    `json:"progress"`
	CurrentStep int        `json:"current_step"`
	TotalSteps  int        `json:"total_steps"`
}

// ProgressEvent строит событие по текущему состоянию задачи
func (t *Task) ProgressEvent() ProgressEvent {
	return ProgressEvent{
		TaskID:      t.ID,
		Status:      t.Status,
		Progress:    t.Progress(),
		CurrentStep: t.CurrentStep,
		TotalSteps:  len(t.Steps),
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
