// Package llm — контракт языковой модели и OpenAI-совместимый HTTP клиент.
package llm

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

// Provider черный ящик, генерирующий текст и вызовы функций.
// Ответ может быть неструктурированным, вызывающий обязан иметь fallback.
type Provider interface {
	GenerateResponse(ctx context.Context, messages []domain.Message, functions []domain.ToolSchema) (*Response, error)
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content       string                `json:"content"`
	FunctionCalls []domain.FunctionCall `json:"function_calls,omitempty"`
	FinishReason  string                `json:"finish_reason"`
	Usage         Usage                 `json:"usage"`
}

// ExtractJSON достает JSON-объект из ответа модели: модели любят оборачивать
// его в ```json ... ``` или добавлять пояснения до и после.
func ExtractJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if gjson.Valid(s) && strings.HasPrefix(s, "{") {
		return s, true
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}
