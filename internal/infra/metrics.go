package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: задачи по финальному статусу
	TasksTotal *prometheus.CounterVec

	// Saturation: сколько задач сейчас в работе
	ActiveTasks prometheus.Gauge

	// Latency: длительность шага (включая обработчик инструмента)
	StepDuration *prometheus.HistogramVec

	// Решения Permission Authority: decision=allow_session/deny/..., outcome=cached/evaluated/error
	PermissionDecisions *prometheus.CounterVec

	// Ошибки в подписчиках прогресса
	CallbackFailures prometheus.Counter

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TasksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tasks_total",
			Help: "Total number of finished tasks by terminal status.",
		}, []string{"status"}),

		ActiveTasks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "assistant_active_tasks",
			Help: "Number of tasks in planning, executing or paused state.",
		}),

		StepDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_step_duration_seconds",
			Help:    "Histogram of task step latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"tool", "status"}),

		PermissionDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_permission_decisions_total",
			Help: "Permission decisions by level and outcome.",
		}, []string{"decision", "outcome"}),

		CallbackFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "assistant_progress_callback_failures_total",
			Help: "Progress subscribers that returned an error or panicked.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "assistant_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"tool"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "assistant_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
