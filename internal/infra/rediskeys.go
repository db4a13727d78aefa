package infra

// RedisNamespace префикс всех ключей ассистента
const RedisNamespace = "assistant"

// Ключи для Sets (состояние)
const (
	RedisKeyDisabledTools   = RedisNamespace + ":tools:disabled"
	RedisKeyLockToolsWarmup = RedisNamespace + ":lock:warmup:tools"
)

// Каналы Pub/Sub
const (
	// RedisChanPermissionPrompts: запросы разрешений для внешнего UI (JSON Notification)
	RedisChanPermissionPrompts = RedisNamespace + ":permissions:prompts"
	// RedisChanPermissionResponses — ответы пользователя "request_id:response"
	RedisChanPermissionResponses = RedisNamespace + ":permissions:responses"
	// RedisChanToolKillSwitch сигналы "tool:on|off"
	RedisChanToolKillSwitch = RedisNamespace + ":tools:kill-switch"
)
