package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client ходит в /chat/completions любого OpenAI-совместимого сервера (OpenAI, Ollama, vLLM).
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("llm"),
	}
}

func (c *Client) GenerateResponse(ctx context.Context, messages []domain.Message, functions []domain.ToolSchema) (*Response, error) {
	body, err := c.buildRequest(messages, functions)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("llm returned %d: %s", resp.StatusCode, msg)
	}

	out, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("llm call finished",
		zap.String("model", c.cfg.Model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.String("finish_reason", out.FinishReason),
	)
	return out, nil
}

func (c *Client) buildRequest(messages []domain.Message, functions []domain.ToolSchema) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", c.cfg.Model); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "temperature", c.cfg.Temperature); err != nil {
		return nil, err
	}
	// пустой список должен уйти как [], а не пропасть
	if body, err = sjson.SetRawBytes(body, "messages", []byte(`[]`)); err != nil {
		return nil, err
	}

	for _, m := range messages {
		msg := []byte(`{}`)
		if msg, err = sjson.SetBytes(msg, "role", wireRole(m.Role)); err != nil {
			return nil, err
		}
		if msg, err = sjson.SetBytes(msg, "content", m.Content); err != nil {
			return nil, err
		}
		if m.FunctionName != "" {
			if msg, err = sjson.SetBytes(msg, "name", m.FunctionName); err != nil {
				return nil, err
			}
		}
		if body, err = sjson.SetRawBytes(body, "messages.-1", msg); err != nil {
			return nil, err
		}
	}

	if len(functions) == 0 {
		return body, nil
	}
	if body, err = sjson.SetRawBytes(body, "tools", []byte(`[]`)); err != nil {
		return nil, err
	}
	for _, f := range functions {
		params, mErr := json.Marshal(f.Parameters)
		if mErr != nil {
			return nil, mErr
		}
		tool := []byte(`{"type":"function"}`)
		if tool, err = sjson.SetBytes(tool, "function.name", f.Name); err != nil {
			return nil, err
		}
		if tool, err = sjson.SetBytes(tool, "function.description", f.Description); err != nil {
			return nil, err
		}
		if tool, err = sjson.SetRawBytes(tool, "function.parameters", params); err != nil {
			return nil, err
		}
		if body, err = sjson.SetRawBytes(body, "tools.-1", tool); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// В chat/completions роль function заменена на tool
func wireRole(r domain.Role) string {
	if r == domain.RoleFunction {
		return "tool"
	}
	return string(r)
}

func parseResponse(raw []byte) (*Response, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("llm response is not JSON")
	}
	choice := gjson.GetBytes(raw, "choices.0")
	if !choice.Exists() {
		return nil, fmt.Errorf("llm response has no choices")
	}

	out := &Response{
		Content:      choice.Get("message.content").String(),
		FinishReason: choice.Get("finish_reason").String(),
		Usage: Usage{
			PromptTokens:     int(gjson.GetBytes(raw, "usage.prompt_tokens").Int()),
			CompletionTokens: int(gjson.GetBytes(raw, "usage.completion_tokens").Int()),
			TotalTokens:      int(gjson.GetBytes(raw, "usage.total_tokens").Int()),
		},
	}
	choice.Get("message.tool_calls").ForEach(func(_, call gjson.Result) bool {
		out.FunctionCalls = append(out.FunctionCalls, domain.FunctionCall{
			Name:      call.Get("function.name").String(),
			Arguments: call.Get("function.arguments").String(),
		})
		return true
	})
	// старый формат function_call
	if fc := choice.Get("message.function_call"); fc.Exists() {
		out.FunctionCalls = append(out.FunctionCalls, domain.FunctionCall{
			Name:      fc.Get("name").String(),
			Arguments: fc.Get("arguments").String(),
		})
	}
	return out, nil
}
