package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Разделы API консоли
const (
	ScopeTasks       = "tasks"
	ScopePermissions = "permissions"
	ScopeAudit       = "audit"
	ScopeAdmin       = "admin"
)

// CustomClaims: claims токена консоли. Scopes ограничивают доступ к разделам API:
// "tasks", "permissions", "audit" или "admin" на все сразу.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope — есть ли у токена право на раздел
func (c *CustomClaims) HasScope(scope string) bool {
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}
