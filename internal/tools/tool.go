// Package tools — реестр возможностей: объявленные дескрипторы, валидация параметров,
// проверка разрешений и вызов обработчиков.
package tools

import (
	"context"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

// Типы параметров соответствуют типам JSON Schema
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Parameter объявленный параметр инструмента
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Tool: статический дескриптор возможности
type Tool struct {
	Name                 string
	Description          string
	Category             string
	Parameters           []Parameter
	RiskLevel            domain.RiskLevel
	RequiredCapabilities []string
	Handler              Handler
}

// Call — один вызов: действие плюс параметры
type Call struct {
	Action      string
	Description string
	Params      map[string]any
	UserContext string
}

// Handler исполняет проверенный вызов
type Handler interface {
	Execute(ctx context.Context, call Call) (any, error)
}

// HandlerFunc позволяет использовать функцию как Handler
type HandlerFunc func(ctx context.Context, call Call) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, call Call) (any, error) {
	return f(ctx, call)
}

// PermissionChecker то, что реестру нужно от Permission Authority
type PermissionChecker interface {
	RequestPermission(ctx context.Context, req domain.PermissionRequest) domain.PermissionLevel
}
