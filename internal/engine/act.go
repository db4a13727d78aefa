package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/llm"
	"github.com/xela07ax/spaceai-assistant/internal/tools"
	"go.uber.org/zap"
)

// stepOutcome итог одной попытки шага
type stepOutcome struct {
	success   bool
	result    any
	err       string
	retryable bool
}

// verdict: итог фазы Check
type verdict struct {
	Success         bool
	Summary         string
	Issues          []string
	Recommendations []string
}

// act исполняет шаги строго по порядку. Шаг повторяется на месте до MaxRetries,
// задача переходит к следующему шагу только после COMPLETED.
func (e *Engine) act(ctx context.Context, tt *trackedTask) string {
	tt.mu.Lock()
	if tt.task.Status == domain.TaskPlanning {
		_ = e.setStatus(tt.task, domain.TaskExecuting)
	}
	ev := tt.task.ProgressEvent()
	tt.mu.Unlock()
	e.notify(ev)

	// Уже отправленный шаг не прерывается отменой запроса
	stepCtx := context.WithoutCancel(ctx)

	for i := 0; ; {
		if !e.awaitRunnable(ctx, tt) {
			break
		}

		// 1. PENDING -> IN_PROGRESS
		tt.mu.Lock()
		if i >= len(tt.task.Steps) {
			tt.mu.Unlock()
			break
		}
		tt.task.CurrentStep = i
		step := tt.task.Steps[i]
		now := e.clock()
		step.Status = domain.StepInProgress
		step.StartedAt = &now
		call := *step
		call.Parameters = cloneParams(step.Parameters)
		request := tt.task.UserRequest
		ev = tt.task.ProgressEvent()
		tt.mu.Unlock()
		e.notify(ev)

		e.logger.Info("executing step",
			zap.String("task_id", ev.TaskID),
			zap.String("step_id", call.ID),
			zap.String("tool", call.ToolName),
			zap.String("action", call.Action),
			zap.Int("attempt", call.RetryCount+1),
		)

		// 2. Вызов (без блокировки задачи)
		out := e.executeStep(stepCtx, request, &call)

		// 3. IN_PROGRESS -> COMPLETED | FAILED (-> PENDING при повторе)
		tt.mu.Lock()
		done := e.clock()
		step.CompletedAt = &done
		advance := false
		stop := false
		if out.success {
			step.Status = domain.StepCompleted
			step.Result = out.result
			step.Error = ""
			advance = true
		} else {
			step.Status = domain.StepFailed
			step.Error = out.err
			switch {
			case !tt.task.Status.IsActive():
				stop = true
			case out.retryable && step.CanRetry():
				step.ResetForRetry()
			default:
				_ = e.setStatus(tt.task, domain.TaskFailed)
				stop = true
			}
		}
		ev = tt.task.ProgressEvent()
		tt.mu.Unlock()
		e.notify(ev)

		if !out.success {
			e.logger.Warn("step failed",
				zap.String("task_id", ev.TaskID),
				zap.String("step_id", call.ID),
				zap.String("error", out.err),
				zap.Bool("retryable", out.retryable),
			)
		}
		if stop {
			break
		}
		if advance {
			i++
		}
	}

	return e.finish(ctx, tt)
}

// awaitRunnable возвращает true, если можно запускать следующий шаг.
// На паузе ждет resume, отмену задачи или отмену ctx.
func (e *Engine) awaitRunnable(ctx context.Context, tt *trackedTask) bool {
	for {
		tt.mu.Lock()
		status := tt.task.Status
		tt.mu.Unlock()

		switch status {
		case domain.TaskExecuting:
			if ctx.Err() != nil {
				e.cancelTracked(tt)
				return false
			}
			return true
		case domain.TaskPaused:
			select {
			case <-tt.wake:
			case <-ctx.Done():
				e.cancelTracked(tt)
				return false
			}
		default:
			return false
		}
	}
}

func (e *Engine) executeStep(ctx context.Context, request string, step *domain.TaskStep) (out stepOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = stepOutcome{err: fmt.Sprintf("step panicked: %v", r), retryable: true}
		}
		status := "completed"
		if !out.success {
			status = "failed"
		}
		e.metrics.StepDuration.WithLabelValues(step.ToolName, status).Observe(time.Since(start).Seconds())
	}()

	if e.tools != nil {
		if _, ok := e.tools.Get(step.ToolName); ok {
			resp := e.tools.ExecuteTool(ctx, step.ToolName, e.authority, tools.Call{
				Action:      step.Action,
				Description: step.Description,
				Params:      step.Parameters,
				UserContext: request,
			})
			// отказ в разрешении повтором не лечится
			return stepOutcome{
				success:   resp.Success,
				result:    resp.Result,
				err:       resp.Error,
				retryable: !resp.RequiresPermission,
			}
		}
	}
	return e.generalStep(ctx, request, step)
}

// generalStep отвечает на шаг без зарегистрированного инструмента вызовом модели
func (e *Engine) generalStep(ctx context.Context, request string, step *domain.TaskStep) stepOutcome {
	if e.llm == nil {
		return stepOutcome{err: "no language model configured", retryable: false}
	}
	params, _ := json.Marshal(step.Parameters)
	out, err := e.llm.GenerateResponse(ctx, []domain.Message{
		{Role: domain.RoleSystem, Content: generalStepPrompt},
		{Role: domain.RoleUser, Content: fmt.Sprintf("Task: %s\nStep: %s\nParameters: %s", request, step.Description, params)},
	}, nil)
	if err != nil {
		return stepOutcome{err: fmt.Sprintf("unable to complete step: %v", err), retryable: true}
	}
	return stepOutcome{success: true, result: out.Content}
}

// finish: Check, финальный статус, запись в память и последнее событие прогресса
func (e *Engine) finish(ctx context.Context, tt *trackedTask) string {
	tt.mu.Lock()
	if tt.task.Status == domain.TaskCancelled {
		tt.task.SkipRemaining()
		ev := tt.task.ProgressEvent()
		tt.mu.Unlock()
		e.notify(ev)
		return "Task was cancelled"
	}
	snapshot := tt.task.Clone()
	tt.mu.Unlock()

	v := e.check(context.WithoutCancel(ctx), snapshot)

	tt.mu.Lock()
	if tt.task.Status == domain.TaskExecuting {
		next := domain.TaskCompleted
		if !v.Success {
			next = domain.TaskFailed
		}
		_ = e.setStatus(tt.task, next)
	}
	status := tt.task.Status
	if status != domain.TaskCompleted {
		tt.task.SkipRemaining()
	}
	ev := tt.task.ProgressEvent()
	tt.mu.Unlock()

	if status != domain.TaskCancelled {
		e.remember(ctx, snapshot.SessionID, snapshot.UserRequest, v.Summary)
	}
	e.notify(ev)

	e.logger.Info("task finished",
		zap.String("task_id", snapshot.ID),
		zap.String("status", string(status)),
		zap.Bool("verdict", v.Success),
	)
	if status == domain.TaskCancelled {
		return "Task was cancelled"
	}
	return v.Summary
}

type stepResult struct {
	StepID  string `json:"step_id"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// check просит модель оценить результат. Если ответ не разбирается —
// успех тогда и только тогда, когда все выполненные шаги успешны.
func (e *Engine) check(ctx context.Context, task *domain.Task) verdict {
	var results []stepResult
	for _, s := range task.Steps {
		if s.Status == domain.StepCompleted || s.Status == domain.StepFailed {
			results = append(results, stepResult{StepID: s.ID, Success: s.Status == domain.StepCompleted, Result: s.Result, Error: s.Error})
		}
	}
	if len(results) == 0 {
		return verdict{Success: false, Summary: "No steps were executed"}
	}

	if e.llm != nil {
		stepsJSON, _ := json.Marshal(task.Steps)
		resultsJSON, _ := json.Marshal(results)
		out, err := e.llm.GenerateResponse(ctx, []domain.Message{
			{Role: domain.RoleSystem, Content: fmt.Sprintf(checkerPrompt, task.UserRequest, stepsJSON, resultsJSON)},
			{Role: domain.RoleUser, Content: "Analyze the task execution and provide final assessment."},
		}, nil)
		if err != nil {
			e.logger.Warn("check call failed, using deterministic verdict", zap.String("task_id", task.ID), zap.Error(err))
		} else if v, err := parseVerdict(out.Content); err == nil {
			return v
		} else {
			e.logger.Warn("unparseable verdict, using deterministic verdict", zap.String("task_id", task.ID))
		}
	}

	success := true
	for _, r := range results {
		if !r.Success {
			success = false
			break
		}
	}
	if success {
		return verdict{Success: true, Summary: "Task completed successfully"}
	}
	return verdict{Success: false, Summary: "Task execution encountered issues", Issues: []string{"one or more steps failed"}}
}

func parseVerdict(content string) (verdict, error) {
	raw, ok := llm.ExtractJSON(content)
	if !ok {
		return verdict{}, domain.ErrVerdictParse
	}
	success := gjson.Get(raw, "success")
	if success.Type != gjson.True && success.Type != gjson.False {
		return verdict{}, fmt.Errorf("%w: missing success flag", domain.ErrVerdictParse)
	}
	v := verdict{
		Success: success.Bool(),
		Summary: gjson.Get(raw, "final_result").String(),
	}
	for _, s := range gjson.Get(raw, "issues").Array() {
		v.Issues = append(v.Issues, s.String())
	}
	for _, s := range gjson.Get(raw, "recommendations").Array() {
		v.Recommendations = append(v.Recommendations, s.String())
	}
	if v.Summary == "" {
		v.Summary = "Task completed successfully"
		if !v.Success {
			v.Summary = "Task execution encountered issues"
		}
	}
	return v, nil
}

func cloneParams(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
