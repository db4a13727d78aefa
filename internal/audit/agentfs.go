package audit

/*
Файл agentfs.go — асинхронная персистентность журнала решений по разрешениям.

- Non-blocking: Log никогда не ждет БД, события уходят в буферизованный канал.
- Batching: воркер копит события и пишет пачкой по таймеру или при достижении batchSize.
- Drain Pattern: Stop закрывает канал и дожидается финального flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

// Sink принимает событие на сохранение
type Sink interface {
	Log(event AuditEvent)
}

const batchSize = 100

type AgentFS struct {
	ch       chan AuditEvent
	repo     StorageInterface
	logger   *zap.Logger
	interval time.Duration
	fill     prometheus.Gauge // может быть nil
	wg       sync.WaitGroup
	isClosed int32 // 0 - открыт, 1 - закрыт
	mu       sync.RWMutex
}

// NewAgentFS создает писатель. bufferSize и flushInterval берутся из конфигурации permissions.
func NewAgentFS(repo StorageInterface, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *AgentFS {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &AgentFS{
		ch:       make(chan AuditEvent, bufferSize),
		repo:     repo,
		logger:   logger.With(zap.String("mod", "agentfs")),
		interval: flushInterval,
	}
}

// WithFillGauge подключает метрику заполненности буфера (backpressure)
func (fs *AgentFS) WithFillGauge(g prometheus.Gauge) *AgentFS {
	fs.fill = g
	return fs
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	if !atomic.CompareAndSwapInt32(&fs.isClosed, 0, 1) {
		return
	}
	// Log держит RLock на время отправки, поэтому после Lock в канал уже никто не пишет
	fs.mu.Lock()
	close(fs.ch)
	fs.mu.Unlock()

	fs.logger.Info("stopping auditor: flushing buffer...")
	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

func (fs *AgentFS) Log(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if atomic.LoadInt32(&fs.isClosed) == 1 {
		fs.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: журнал решений не должен тормозить авторизацию
	select {
	case fs.ch <- event:
		if fs.fill != nil {
			fs.fill.Set(float64(len(fs.ch)))
		}
	default:
		fs.logger.Error("audit_buffer_overflow",
			zap.String("signature", event.Signature),
			zap.String("decision", event.Decision),
			zap.String("reason", event.Reason),
		)
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]AuditEvent, 0, batchSize)
	ticker := time.NewTicker(fs.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст может быть уже закрыт
			if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
				fs.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}
		if fs.fill != nil {
			fs.fill.Set(float64(len(fs.ch)))
		}
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				flush() // Финальный сброс
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
