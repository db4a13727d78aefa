package tools

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"go.uber.org/zap"
)

// KillSwitch держит множество отключенных инструментов.
// L1 — мапа в памяти (Hot Path), L2 — Redis set, синхронизация между инстансами через Pub/Sub.
// Без Redis работает только L1.
type KillSwitch struct {
	mu       sync.RWMutex
	disabled map[string]struct{}
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewKillSwitch(rdb *redis.Client, logger *zap.Logger) *KillSwitch {
	return &KillSwitch{
		disabled: make(map[string]struct{}),
		rdb:      rdb,
		logger:   logger.Named("killswitch"),
	}
}

func (k *KillSwitch) IsDisabled(tool string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.disabled[tool]
	return ok
}

// Disabled снимок отключенных инструментов
func (k *KillSwitch) Disabled() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.disabled))
	for name := range k.disabled {
		out = append(out, name)
	}
	return out
}

func (k *KillSwitch) apply(tool string, disabled bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if disabled {
		k.disabled[tool] = struct{}{}
	} else {
		delete(k.disabled, tool)
	}
}

// Set меняет состояние локально и, если есть Redis, рассылает сигнал остальным инстансам.
func (k *KillSwitch) Set(ctx context.Context, tool string, disabled bool) error {
	k.apply(tool, disabled)
	if k.rdb == nil {
		return nil
	}

	pipe := k.rdb.TxPipeline()
	if disabled {
		pipe.SAdd(ctx, infra.RedisKeyDisabledTools, tool)
	} else {
		pipe.SRem(ctx, infra.RedisKeyDisabledTools, tool)
	}
	state := "off"
	if disabled {
		state = "on"
	}
	pipe.Publish(ctx, infra.RedisChanToolKillSwitch, tool+":"+state)
	_, err := pipe.Exec(ctx)
	return err
}

// Init загружает текущее состояние из Redis при старте сервиса
func (k *KillSwitch) Init(ctx context.Context) error {
	if k.rdb == nil {
		return nil
	}
	tools, err := k.rdb.SMembers(ctx, infra.RedisKeyDisabledTools).Result()
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.disabled = make(map[string]struct{}, len(tools))
	for _, name := range tools {
		k.disabled[name] = struct{}{}
	}
	k.mu.Unlock()
	return nil
}

// StartListener подписывается на сигналы "tool:on|off" и обновляет L1
func (k *KillSwitch) StartListener(ctx context.Context) {
	if k.rdb == nil {
		return
	}
	k.logger.Info("kill-switch listener started")
	infra.ListenResilient(ctx, k.rdb, k.logger, infra.RedisChanToolKillSwitch,
		func() error { return k.Init(ctx) },
		k.handleSignal,
	)
}

func (k *KillSwitch) handleSignal(payload string) {
	tool, state, ok := strings.Cut(payload, ":")
	if !ok || tool == "" {
		k.logger.Error("invalid signal format", zap.String("payload", payload))
		return
	}
	disabled := state == "true" || state == "on" // Гибкий парсинг
	k.apply(tool, disabled)
	k.logger.Warn("tool kill-switch signal", zap.String("tool", tool), zap.Bool("disabled", disabled))
}
