package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliabilityConfig: параметры защиты удаленного обработчика
type ReliabilityConfig struct {
	RateLimit     float64
	RateBurst     int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	Attempts      uint
	CallTimeout   time.Duration
}

func (c *ReliabilityConfig) setDefaults() {
	if c.RateLimit <= 0 {
		c.RateLimit = 100
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.CBMaxRequests == 0 {
		c.CBMaxRequests = 1
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
}

// ReliabilityWrapper: rate limit -> circuit breaker -> retry с бэкоффом.
type ReliabilityWrapper struct {
	next    Handler
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
}

// NewReliabilityWrapper оборачивает обработчик. state может быть nil.
func NewReliabilityWrapper(name string, next Handler, cfg ReliabilityConfig, state *prometheus.GaugeVec) *ReliabilityWrapper {
	cfg.setDefaults()

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if state == nil {
				return
			}
			v := 0.0
			if to == gobreaker.StateOpen {
				v = 1
			}
			state.WithLabelValues(name).Set(v)
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:     cfg,
	}
}

func (w *ReliabilityWrapper) Execute(ctx context.Context, call Call) (any, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	return w.cb.Execute(func() (interface{}, error) {
		var result any
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.Attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Инструмент сам сказал, сколько ждать
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// В остальных случаях (сетевой лаг, 500-ка), стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		err := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()

			var callErr error
			result, callErr = w.next.Execute(tCtx, call)
			return callErr
		})
		return result, err
	})
}

// State: текущее состояние предохранителя (для CLI и тестов)
func (w *ReliabilityWrapper) State() gobreaker.State {
	return w.cb.State()
}
