package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации outbox.
const (
	PublishSent       = "sent"
	PublishRetry      = "retry_error"
	PublishFailed     = "failed"
	PublishDLQFailed  = "dlq_failed"
	PublishDeadLetter = "dead_letter"
)

// WorkerMetrics собирает метрики фоновых воркеров: outbox и очистки idempotency-ключей.
// Методы безопасно вызывать на nil.
type WorkerMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
	failedRecords    prometheus.Gauge
	cleanupRuns      *prometheus.CounterVec
	cleanupDeleted   prometheus.Counter
	cleanupLast      prometheus.Gauge
}

// NewWorkerMetrics регистрирует метрики в DefaultRegisterer.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWithRegisterer регистрирует метрики в указанном registerer.
func NewWorkerMetricsWithRegisterer(registerer prometheus.Registerer) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkerMetrics{
		publishAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_outbox_publish_attempts_total",
			Help: "Outbox publish attempts grouped by result",
		}, []string{"result"})),
		pendingRecords: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		})),
		oldestPendingAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record",
		})),
		failedRecords: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_failed_records",
			Help: "Outbox records that exhausted publish attempts",
		})),
		cleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs grouped by result",
		}, []string{"result"})),
		cleanupDeleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency records deleted",
		})),
		cleanupLast: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_idempotency_cleanup_last_deleted",
			Help: "Records deleted during the last cleanup run",
		})),
	}
}

// RecordPublish увеличивает счётчик попыток публикации.
func (m *WorkerMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog, возраст самой старой записи и число неотправленных.
func (m *WorkerMetrics) SetBacklog(pending, failed int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	m.failedRecords.Set(float64(failed))
	if pending == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}

// RecordCleanup отмечает завершённый цикл очистки.
func (m *WorkerMetrics) RecordCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.cleanupLast.Set(float64(deleted))
	}
}

// AddCleanupDeleted увеличивает счётчик удалённых записей.
func (m *WorkerMetrics) AddCleanupDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(n))
}
