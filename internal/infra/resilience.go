package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	resubscribeMin = time.Second
	resubscribeMax = 30 * time.Second
)

// ListenResilient держит подписку на канал Redis до отмены ctx.
// После каждой успешной (пере)подписки вызывается onSync, чтобы догнать пропущенное.
func ListenResilient(ctx context.Context, rdb *redis.Client, logger *zap.Logger, channel string,
	onSync func() error, onMessage func(payload string)) {
	backoff := resubscribeMin
	for ctx.Err() == nil {
		pubsub := rdb.Subscribe(ctx, channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Duration("retry_in", backoff), zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, resubscribeMax)
			continue
		}
		backoff = resubscribeMin

		if onSync != nil {
			if err := onSync(); err != nil {
				logger.Error("sync failed on reconnect", zap.String("chan", channel), zap.Error(err))
			}
		}

		if !drain(ctx, pubsub.Channel(), onMessage) {
			_ = pubsub.Close()
			return
		}
		_ = pubsub.Close()
		logger.Warn("subscription closed, resubscribing", zap.String("chan", channel))
		if !sleepCtx(ctx, resubscribeMin) {
			return
		}
	}
}

// drain возвращает false при отмене ctx и true, если канал закрылся сам
func drain(ctx context.Context, ch <-chan *redis.Message, onMessage func(string)) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return true
			}
			onMessage(msg.Payload)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
