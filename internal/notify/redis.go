package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"go.uber.org/zap"
)

// RedisNotifier публикует запросы в канал промптов, а ответы внешнего UI
// слушает в канале ответов в формате "request_id:response".
type RedisNotifier struct {
	rdb     *redis.Client
	logger  *zap.Logger
	mu      sync.Mutex
	pending map[string]ResponseFunc
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb:     rdb,
		logger:  logger.Named("redis_notifier"),
		pending: make(map[string]ResponseFunc),
	}
}

func (r *RedisNotifier) SendPermissionNotification(ctx context.Context, n Notification, onResponse ResponseFunc) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	stop := r.track(ctx, n.RequestID, onResponse)
	if err := r.rdb.Publish(ctx, infra.RedisChanPermissionPrompts, payload).Err(); err != nil {
		stop()
		r.forget(n.RequestID)
		return fmt.Errorf("publish prompt: %w", err)
	}
	return nil
}

// track ждет ответа, пока жив ctx. Ответ после отмены ctx считается неизвестным.
func (r *RedisNotifier) track(ctx context.Context, requestID string, onResponse ResponseFunc) func() bool {
	r.mu.Lock()
	r.pending[requestID] = onResponse
	r.mu.Unlock()
	return context.AfterFunc(ctx, func() { r.forget(requestID) })
}

func (r *RedisNotifier) forget(requestID string) {
	r.mu.Lock()
	delete(r.pending, requestID)
	r.mu.Unlock()
}

// Waiting: сколько запросов ждут ответа
func (r *RedisNotifier) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Respond публикует ответ от имени UI (используется консолью и CLI)
func (r *RedisNotifier) Respond(ctx context.Context, requestID, response string) error {
	return r.rdb.Publish(ctx, infra.RedisChanPermissionResponses, requestID+":"+response).Err()
}

// Listen блокируется до отмены ctx
func (r *RedisNotifier) Listen(ctx context.Context) {
	infra.ListenResilient(ctx, r.rdb, r.logger, infra.RedisChanPermissionResponses, nil, r.dispatch)
}

func (r *RedisNotifier) dispatch(payload string) {
	id, response, ok := strings.Cut(payload, ":")
	if !ok {
		r.logger.Error("invalid response format", zap.String("payload", payload))
		return
	}

	r.mu.Lock()
	cb, found := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !found {
		r.logger.Debug("response for unknown request ignored", zap.String("request_id", id))
		return
	}
	cb(id, response)
}
