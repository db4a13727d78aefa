package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/memory"
	"go.uber.org/zap"
)

// Response — то, что получает фронтенд (CLI, HTTP, голос)
type Response struct {
	Text          string                `json:"response"`
	FunctionCalls []domain.FunctionCall `json:"function_calls,omitempty"`
	Context       map[string]any        `json:"context,omitempty"`
	TaskID        string                `json:"task_id,omitempty"`
	TaskStatus    domain.TaskStatus     `json:"task_status,omitempty"`
	Progress      float64               `json:"progress"`
}

// observation собранный на шаге Observe контекст
type observation struct {
	context  map[string]any
	history  []domain.Message
	memories []memory.Entry
	tools    []domain.ToolSchema
}

// ProcessRequest прогоняет запрос через весь цикл и никогда не возвращает ошибку:
// любой сбой превращается в ответ с извинением и исходным контекстом.
func (e *Engine) ProcessRequest(ctx context.Context, text string, reqCtx map[string]any, userID, sessionID string) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while processing request", zap.Any("panic", r), zap.String("session_id", sessionID))
			resp = Response{
				Text:    fmt.Sprintf("I encountered an error processing your request: %v", r),
				Context: reqCtx,
			}
		}
	}()

	// 1. Observe
	obs := e.observe(ctx, text, reqCtx, userID, sessionID)

	// 2. Orient: дешевая локальная эвристика решает, нужен ли дорогой вызов планировщика
	if !e.needsPlanning(text) {
		return e.simpleResponse(ctx, text, obs, sessionID)
	}

	// 3. Decide
	tt := e.decide(ctx, text, obs, userID, sessionID)

	// 4-5. Act + Check
	summary := e.act(ctx, tt)

	tt.mu.Lock()
	defer tt.mu.Unlock()
	return Response{
		Text:       summary,
		Context:    obs.context,
		TaskID:     tt.task.ID,
		TaskStatus: tt.task.Status,
		Progress:   tt.task.Progress(),
	}
}

// observe собирает историю, память и инструменты. Сбои памяти, это "контекста нет".
func (e *Engine) observe(ctx context.Context, text string, reqCtx map[string]any, userID, sessionID string) observation {
	c := make(map[string]any, len(reqCtx)+6)
	for k, v := range reqCtx {
		c[k] = v
	}

	obs := observation{context: c}

	if sessionID != "" {
		history, err := e.memory.GetConversationContext(ctx, sessionID, e.cfg.HistoryWindow)
		if err != nil {
			e.logger.Warn("conversation history unavailable", zap.String("session_id", sessionID), zap.Error(err))
		}
		obs.history = history
	}

	memories, err := e.memory.SearchMemory(ctx, text, e.cfg.MemoryLimit)
	if err != nil {
		e.logger.Warn("memory search unavailable", zap.Error(err))
	}
	obs.memories = memories

	if e.tools != nil {
		obs.tools = e.tools.GetToolSchemas()
	}
	names := make([]string, 0, len(obs.tools))
	for _, t := range obs.tools {
		names = append(names, t.Name)
	}

	c["conversation_history"] = obs.history
	c["relevant_memories"] = obs.memories
	c["available_tools"] = names
	c["current_time"] = e.clock().Format("2006-01-02T15:04:05Z07:00")
	c["user_id"] = userID
	c["session_id"] = sessionID
	return obs
}

var toolKeywords = []string{"file", "window", "open", "close", "search", "install", "run", "execute", "manage"}

var sequenceWords = map[string]bool{"first": true, "second": true, "next": true, "finally": true}

var sequencePhrases = []string{"and then", "after that"}

// needsPlanning: ключевое слово инструмента (по префиксу токена), слова
// последовательности или длина больше порога.
func (e *Engine) needsPlanning(text string) bool {
	lower := strings.ToLower(text)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	for _, tok := range tokens {
		if sequenceWords[tok] {
			return true
		}
		for _, kw := range toolKeywords {
			if strings.HasPrefix(tok, kw) {
				return true
			}
		}
	}

	joined := " " + strings.Join(tokens, " ") + " "
	for _, phrase := range sequencePhrases {
		if strings.Contains(joined, " "+phrase+" ") {
			return true
		}
	}

	return len(strings.Fields(text)) > e.cfg.PlanningWordThreshold
}

// simpleResponse — один вызов модели без плана
func (e *Engine) simpleResponse(ctx context.Context, text string, obs observation, sessionID string) Response {
	messages := []domain.Message{{Role: domain.RoleSystem, Content: simpleSystemPrompt}}
	if len(obs.memories) > 0 {
		var b strings.Builder
		b.WriteString("Relevant memories:\n")
		for _, m := range obs.memories {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: b.String()})
	}
	messages = append(messages, obs.history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: text})

	if e.llm == nil {
		return Response{Text: "I encountered an error processing your request: no language model configured", Context: obs.context}
	}
	out, err := e.llm.GenerateResponse(ctx, messages, obs.tools)
	if err != nil {
		e.logger.Error("simple response failed", zap.Error(err))
		return Response{Text: fmt.Sprintf("I encountered an error processing your request: %v", err), Context: obs.context}
	}

	e.remember(ctx, sessionID, text, out.Content)
	return Response{Text: out.Content, FunctionCalls: out.FunctionCalls, Context: obs.context}
}

// remember пишет обмен репликами в память. Пустая сессия, ничего не пишем.
func (e *Engine) remember(ctx context.Context, sessionID, request, reply string) {
	if sessionID == "" {
		return
	}
	now := e.clock()
	ctx = context.WithoutCancel(ctx)
	if err := e.memory.AddMessage(ctx, sessionID, domain.Message{Role: domain.RoleUser, Content: request, CreatedAt: now}); err != nil {
		e.logger.Warn("failed to store user message", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := e.memory.AddMessage(ctx, sessionID, domain.Message{Role: domain.RoleAssistant, Content: reply, CreatedAt: now}); err != nil {
		e.logger.Warn("failed to store assistant message", zap.String("session_id", sessionID), zap.Error(err))
	}
}
