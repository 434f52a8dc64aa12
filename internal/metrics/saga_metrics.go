package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы компенсации одного резерва.
const (
	CompensationSucceeded = "succeeded"
	CompensationFailed    = "failed"
)

// SagaMetrics содержит метрики саги покупки.
type SagaMetrics struct {
	// Счётчики операций
	sagaStarted   prometheus.Counter
	sagaCompleted prometheus.Counter
	sagaFailed    *prometheus.CounterVec

	// Компенсации: попытки и исходы по каждому резерву
	compensationAttempted prometheus.Counter
	compensations         *prometheus.CounterVec

	// Гистограммы времени выполнения
	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	// Запросы истории
	historyRequests prometheus.Counter

	// Gauge для активных саг
	activeSagas prometheus.Gauge
}

// NewSagaMetrics создаёт метрики в DefaultRegisterer.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в переданном registerer (изолированные тесты).
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_purchase_started_total",
			Help: "Total number of purchase sagas started",
		}),
		sagaCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_purchase_completed_total",
			Help: "Total number of purchase sagas completed successfully",
		}),
		sagaFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_purchase_failed_total",
			Help: "Total number of purchase sagas failed, by error kind",
		}, []string{"kind"}),
		compensationAttempted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_purchase_compensation_attempted_total",
			Help: "Total number of purchase sagas that ran compensation",
		}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_purchase_compensation_releases_total",
			Help: "Total number of compensating releases, by outcome",
		}, []string{"outcome"}),
		sagaDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_purchase_duration_seconds",
			Help:    "Duration of purchase sagas in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_purchase_step_duration_seconds",
			Help:    "Duration of individual purchase saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		historyRequests: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_history_requests_total",
			Help: "Total number of order history listings served",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_active_sagas",
			Help: "Number of currently active purchase sagas",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSagaStarted увеличивает счётчик запущенных саг и число активных.
func (m *SagaMetrics) RecordSagaStarted() {
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordSagaFinished уменьшает количество активных саг и фиксирует длительность.
func (m *SagaMetrics) RecordSagaFinished(duration time.Duration) {
	m.activeSagas.Dec()
	m.sagaDuration.Observe(duration.Seconds())
}

// RecordSagaCompleted увеличивает счётчик завершённых саг.
func (m *SagaMetrics) RecordSagaCompleted() {
	m.sagaCompleted.Inc()
}

// RecordSagaFailed увеличивает счётчик неудачных саг с меткой вида ошибки.
func (m *SagaMetrics) RecordSagaFailed(kind string) {
	m.sagaFailed.WithLabelValues(kind).Inc()
}

// RecordCompensationAttempted отмечает запуск компенсации.
func (m *SagaMetrics) RecordCompensationAttempted() {
	m.compensationAttempted.Inc()
}

// RecordCompensationRelease фиксирует исход одного компенсирующего возврата.
func (m *SagaMetrics) RecordCompensationRelease(outcome string) {
	m.compensations.WithLabelValues(outcome).Inc()
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordHistoryRequest увеличивает счётчик запросов истории.
func (m *SagaMetrics) RecordHistoryRequest() {
	m.historyRequests.Inc()
}
