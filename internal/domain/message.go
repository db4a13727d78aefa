package domain

import "time"

// Role роль сообщения в диалоге с моделью
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message: реплика диалога
type Message struct {
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	FunctionName string         `json:"name,omitempty"`
	FunctionCall *FunctionCall  `json:"function_call,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
}

// FunctionCall — вызов функции, предложенный моделью
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema описание инструмента для function-calling контекста модели
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Metadata    ToolMetadata   `json:"metadata"`
}

type ToolMetadata struct {
	Category            string    `json:"category"`
	RiskLevel           RiskLevel `json:"risk_level"`
	RequiredPermissions []string  `json:"required_permissions"`
}

// ToolResponse: результат диспетчеризации через реестр возможностей
type ToolResponse struct {
	Success            bool               `json:"success"`
	Result             any                `json:"result,omitempty"`
	Error              string             `json:"error,omitempty"`
	RequiresPermission bool               `json:"requires_permission"`
	PermissionRequest  *PermissionRequest `json:"permission_request,omitempty"`
}
