package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"go.uber.org/zap"
)

const warmupLockTTL = 30 * time.Second

// Warmup отключает инструменты из конфигурации. Пустое множество в Redis
// заполняется ими же, но только одним инстансом (SetNX-лок).
func (k *KillSwitch) Warmup(ctx context.Context, disabled []string) error {
	for _, name := range disabled {
		k.apply(name, true)
	}
	if k.rdb == nil || len(disabled) == 0 {
		return nil
	}

	locked, err := k.rdb.SetNX(ctx, infra.RedisKeyLockToolsWarmup, "warming", warmupLockTTL).Result()
	if err != nil {
		return fmt.Errorf("warm-up lock: %w", err)
	}
	if !locked {
		k.logger.Debug("kill-switch warm-up done by another instance")
		return nil
	}

	count, err := k.rdb.SCard(ctx, infra.RedisKeyDisabledTools).Result()
	if err != nil {
		return fmt.Errorf("warm-up size check: %w", err)
	}
	if count > 0 {
		return nil
	}

	members := make([]any, len(disabled))
	for i, name := range disabled {
		members[i] = name
	}
	if err := k.rdb.SAdd(ctx, infra.RedisKeyDisabledTools, members...).Err(); err != nil {
		return err
	}
	k.logger.Info("kill-switch state seeded from config", zap.Strings("tools", disabled))
	return nil
}
