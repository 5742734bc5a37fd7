package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оплаты, помимо видов ошибок.
const (
	ResultPaid        = "paid"
	ResultAlreadyPaid = "already_paid_same_transaction"
)

// SettlementMetrics содержит метрики оформления и оплаты заказов.
type SettlementMetrics struct {
	ordersCreated  prometheus.Counter
	ordersRejected *prometheus.CounterVec

	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	stepDuration       *prometheus.HistogramVec
	inFlight           prometheus.Gauge

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewSettlementMetrics регистрирует метрики в DefaultRegisterer.
func NewSettlementMetrics() *SettlementMetrics {
	return NewSettlementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSettlementMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewSettlementMetricsWithRegisterer(registerer prometheus.Registerer) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SettlementMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Total number of orders created at checkout",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_orders_rejected_total",
			Help: "Total number of checkouts rejected, by error kind",
		}, []string{"kind"}),
		settlements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_settlements_total",
			Help: "Total number of payment settlements, by result",
		}, []string{"result"}),
		settlementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shop_settlement_duration_seconds",
			Help:    "Duration of payment settlement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_settlement_step_duration_seconds",
			Help:    "Duration of individual settlement steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"step"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_settlements_in_flight",
			Help: "Number of settlements currently in progress",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of order timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of order events enqueued to outbox",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик оформленных заказов.
func (m *SettlementMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderRejected учитывает отказ в оформлении.
func (m *SettlementMetrics) RecordOrderRejected(kind string) {
	m.ordersRejected.WithLabelValues(kind).Inc()
}

// SettlementStarted отмечает начало оплаты и возвращает функцию завершения.
func (m *SettlementMetrics) SettlementStarted() func(result string) {
	start := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.settlementDuration.Observe(time.Since(start).Seconds())
		m.settlements.WithLabelValues(result).Inc()
	}
}

// RecordStepDuration записывает время выполнения шага.
func (m *SettlementMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *SettlementMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SettlementMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
