package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/llm"
	"go.uber.org/zap"
)

// FallbackTool шаг, который отвечает на запрос обычным вызовом модели
const (
	FallbackTool   = "general"
	FallbackAction = "respond"
)

type plannedStep struct {
	ToolName    string
	Action      string
	Parameters  map[string]any
	Description string
}

// decide регистрирует задачу в PLANNING до вызова планировщика, чтобы ее можно было отменить.
// Результат всегда содержит хотя бы один шаг.
func (e *Engine) decide(ctx context.Context, text string, obs observation, userID, sessionID string) *trackedTask {
	task := &domain.Task{
		ID:          uuid.New().String(),
		UserRequest: text,
		Description: "Execute user request: " + text,
		Status:      domain.TaskPlanning,
		Context:     obs.context,
		UserID:      userID,
		SessionID:   sessionID,
		CreatedAt:   e.clock(),
	}
	tt := e.register(task)
	tt.mu.Lock()
	ev := task.ProgressEvent()
	tt.mu.Unlock()
	e.notify(ev)

	steps, reasoning, err := e.plan(ctx, text, obs)
	if err != nil {
		e.logger.Warn("planning failed, using fallback plan", zap.String("task_id", task.ID), zap.Error(err))
		steps = fallbackPlan(text)
	}

	tt.mu.Lock()
	for i, s := range steps {
		task.Steps = append(task.Steps, &domain.TaskStep{
			ID:          fmt.Sprintf("step_%d", i),
			ToolName:    s.ToolName,
			Action:      s.Action,
			Parameters:  s.Parameters,
			Description: s.Description,
			Status:      domain.StepPending,
			MaxRetries:  e.cfg.MaxRetries,
		})
	}
	if reasoning != "" {
		task.Description = reasoning
	}
	tt.mu.Unlock()

	e.logger.Info("task planned", zap.String("task_id", task.ID), zap.Int("steps", len(steps)))
	return tt
}

func fallbackPlan(text string) []plannedStep {
	return []plannedStep{{
		ToolName:    FallbackTool,
		Action:      FallbackAction,
		Parameters:  map[string]any{"query": text},
		Description: "Provide a response to the user",
	}}
}

func (e *Engine) plan(ctx context.Context, text string, obs observation) ([]plannedStep, string, error) {
	if e.llm == nil {
		return nil, "", fmt.Errorf("%w: no language model configured", domain.ErrPlanParse)
	}

	toolsJSON, _ := json.MarshalIndent(obs.tools, "", "  ")
	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: fmt.Sprintf(plannerPrompt, toolsJSON)},
		{Role: domain.RoleUser, Content: "Plan this request: " + text},
	}
	if n := len(obs.history); n > 0 {
		recent := obs.history[max(0, n-3):]
		historyJSON, _ := json.Marshal(recent)
		messages = append(messages, domain.Message{Role: domain.RoleUser, Content: "Previous conversation: " + string(historyJSON)})
	}

	out, err := e.llm.GenerateResponse(ctx, messages, nil)
	if err != nil {
		return nil, "", fmt.Errorf("planner call: %w", err)
	}

	steps, reasoning, err := parsePlan(out.Content)
	if err != nil && len(out.FunctionCalls) > 0 {
		// модель ответила нативными вызовами функций вместо JSON плана
		return stepsFromCalls(out.FunctionCalls), "", nil
	}
	return steps, reasoning, err
}

// parsePlan: пустой список шагов, тоже ошибка, план должен быть непустым
func parsePlan(content string) ([]plannedStep, string, error) {
	raw, ok := llm.ExtractJSON(content)
	if !ok {
		return nil, "", fmt.Errorf("%w: no JSON object in planner output", domain.ErrPlanParse)
	}
	plan := gjson.Get(raw, "plan")
	if !plan.IsArray() {
		return nil, "", fmt.Errorf("%w: missing plan array", domain.ErrPlanParse)
	}

	var steps []plannedStep
	for i, s := range plan.Array() {
		if !s.IsObject() {
			return nil, "", fmt.Errorf("%w: step %d is not an object", domain.ErrPlanParse, i)
		}
		step := plannedStep{
			ToolName:    s.Get("tool_name").String(),
			Action:      s.Get("action").String(),
			Description: s.Get("description").String(),
			Parameters:  map[string]any{},
		}
		if step.ToolName == "" {
			step.ToolName = s.Get("tool").String()
		}
		if step.ToolName == "" {
			step.ToolName = FallbackTool
		}
		if step.Action == "" {
			step.Action = "execute"
		}
		if step.Description == "" {
			step.Description = fmt.Sprintf("Step %d", i+1)
		}
		if p := s.Get("parameters"); p.IsObject() {
			if m, ok := p.Value().(map[string]any); ok {
				step.Parameters = m
			}
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, "", fmt.Errorf("%w: empty plan", domain.ErrPlanParse)
	}
	return steps, gjson.Get(raw, "reasoning").String(), nil
}

func stepsFromCalls(calls []domain.FunctionCall) []plannedStep {
	steps := make([]plannedStep, 0, len(calls))
	for i, c := range calls {
		params := map[string]any{}
		if args := gjson.Parse(c.Arguments); args.IsObject() {
			if m, ok := args.Value().(map[string]any); ok {
				params = m
			}
		}
		action, _ := params["action"].(string)
		delete(params, "action")
		steps = append(steps, plannedStep{
			ToolName:    c.Name,
			Action:      action,
			Parameters:  params,
			Description: fmt.Sprintf("Step %d: call %s", i+1, c.Name),
		})
	}
	return steps
}
