// Package metrics содержит Prometheus-метрики оформления заказов и возвратов.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CheckoutMetrics содержит метрики checkout, возвратов и журнала событий.
// Методы безопасно вызывать на nil.
type CheckoutMetrics struct {
	checkouts        *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	checkoutAmount   *prometheus.HistogramVec
	refunds          *prometheus.CounterVec
	reconciliations  prometheus.Counter
	journalEvents    *prometheus.CounterVec
	inFlight         prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Checkout attempts by payment method and result",
		}, []string{"method", "result"})),
		checkoutDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Checkout settlement duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"})),
		checkoutAmount: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_checkout_amount",
			Help:    "Charged order total including tax",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"method"})),
		refunds: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_refunds_total",
			Help: "Refund approvals by result",
		}, []string{"result"})),
		reconciliations: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_payment_reconciliation_required_total",
			Help: "Captured payments whose transaction record could not be stored",
		})),
		journalEvents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_order_events_total",
			Help: "Order lifecycle events written to outbox and timeline",
		}, []string{"type"})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_checkouts_in_flight",
			Help: "Checkouts currently being settled",
		})),
	}
}

// register регистрирует коллектор либо возвращает ранее зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector: %v", err))
}

// CheckoutStarted отмечает начало checkout и возвращает функцию завершения.
func (m *CheckoutMetrics) CheckoutStarted(method string) func(result string, amount float64) {
	if m == nil {
		return func(string, float64) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(result string, amount float64) {
		m.inFlight.Dec()
		m.checkouts.WithLabelValues(method, result).Inc()
		m.checkoutDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
		if result == ResultSuccess {
			m.checkoutAmount.WithLabelValues(method).Observe(amount)
		}
	}
}

// RecordRefund увеличивает счётчик подтверждений возврата.
func (m *CheckoutMetrics) RecordRefund(result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
}

// RecordReconciliationRequired отмечает платёж, требующий ручной сверки.
func (m *CheckoutMetrics) RecordReconciliationRequired() {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
}

// RecordEvent увеличивает счётчик событий заказа.
func (m *CheckoutMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.journalEvents.WithLabelValues(eventType).Inc()
}
