package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

func TestClient_GenerateResponse(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"choices": [{
				"message": {"role": "assistant", "content": "done",
					"tool_calls": [{"type": "function", "function": {"name": "file_manager", "arguments": "{\"path\":\"/tmp\"}"}}]},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "test-model"}, zap.NewNop())
	resp, err := c.GenerateResponse(context.Background(),
		[]domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleFunction, Content: "{}", FunctionName: "file_manager"},
		},
		[]domain.ToolSchema{{Name: "file_manager", Description: "files", Parameters: map[string]any{"type": "object"}}},
	)
	require.NoError(t, err)

	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	require.Len(t, resp.FunctionCalls, 1)
	assert.Equal(t, "file_manager", resp.FunctionCalls[0].Name)

	assert.Equal(t, "test-model", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "tool", gjson.GetBytes(body, "messages.1.role").String())
	assert.Equal(t, "file_manager", gjson.GetBytes(body, "messages.1.name").String())
	assert.Equal(t, "object", gjson.GetBytes(body, "tools.0.function.parameters.type").String())
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "slow down"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop()).GenerateResponse(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestExtractJSON(t *testing.T) {
	s, ok := ExtractJSON("Sure! Here is the plan:\n```json\n{\"plan\": []}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"plan": []}`, s)

	_, ok = ExtractJSON("I cannot plan this")
	assert.False(t, ok)

	_, ok = ExtractJSON("{broken")
	assert.False(t, ok)
}
