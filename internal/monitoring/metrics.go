package monitoring

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsService records the operational metrics of the transaction API.
// Counter and histogram names are part of the dashboard contract; renaming
// one breaks the Grafana boards that chart them.
type MetricsService interface {
	// Transaction lifecycle metrics
	RecordTransactionInitiated(transactionType string)
	RecordTransactionCompleted(transactionType string, amount float64, duration time.Duration)
	RecordTransactionFailed(transactionType, reason string, duration time.Duration)
	RecordTransactionReversed(transactionType string)
	IncrementActiveTransactions()
	DecrementActiveTransactions()
	SetPendingTransactions(count int64)
	ResetDailyCounters()

	// Account service client metrics
	RecordAccountServiceCall(operation string, duration time.Duration, failed bool)
	SetCircuitBreakerState(state string)

	// Limit metrics
	RecordLimitRejection(reason string)

	// Alert metrics
	RecordAlertTriggered(level, alertType string)
	RecordAlertSuppressed(level, alertType string)

	// HTTP metrics
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)

	// Health metrics
	SetComponentUp(component string, up bool)
	RecordSystemMetrics()

	// Snapshot returns the counters the alert checkers and the self health
	// check evaluate.
	Snapshot() Snapshot
}

// Snapshot is a point-in-time view of the internal counters. Alert checkers
// sample it once per run and compare deltas between runs.
type Snapshot struct {
	CompletedTotal           int64   `json:"completedTotal"`
	FailedTotal              int64   `json:"failedTotal"`
	ActiveTransactions       int64   `json:"activeTransactions"`
	PendingTransactions      int64   `json:"pendingTransactions"`
	DailyVolume              int64   `json:"dailyVolume"`
	DailyAmount              float64 `json:"dailyAmount"`
	AvgProcessingSeconds     float64 `json:"avgProcessingSeconds"`
	ConsecutiveAccountErrors int64   `json:"consecutiveAccountErrors"`
	CircuitBreakerState      string  `json:"circuitBreakerState"`
	UptimeSeconds            float64 `json:"uptimeSeconds"`
}

type prometheusMetrics struct {
	// Transaction lifecycle metrics
	transactionsInitiatedTotal prometheus.Counter
	transactionsCompletedTotal prometheus.Counter
	transactionsFailedTotal    *prometheus.CounterVec
	transactionsReversedTotal  prometheus.Counter
	transactionsTotal          *prometheus.CounterVec
	processingDuration         *prometheus.HistogramVec
	activeTransactionsGauge    prometheus.Gauge
	pendingTransactionsGauge   prometheus.Gauge
	dailyVolumeGauge           prometheus.Gauge
	dailyAmountGauge           prometheus.Gauge

	// Account service client metrics
	accountServiceErrorsTotal *prometheus.CounterVec
	accountValidationDuration prometheus.Histogram
	balanceOperationDuration  prometheus.Histogram
	circuitBreakerStateGauge  prometheus.Gauge
	consecutiveErrorsGauge    prometheus.Gauge

	// Limit metrics
	limitRejectionsTotal *prometheus.CounterVec

	// Alert metrics
	alertsTriggeredTotal  *prometheus.CounterVec
	alertsSuppressedTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Health metrics
	componentUpGauge    *prometheus.GaugeVec
	memoryUsageGauge    prometheus.Gauge
	goroutineCountGauge prometheus.Gauge
	uptimeGauge         prometheus.Gauge

	startTime time.Time

	// Mirrors of the gauges above, readable without scraping.
	completedCount    int64
	failedCount       int64
	activeCount       int64
	pendingCount      int64
	dailyVolumeCount  int64
	consecutiveErrors int64

	mu            sync.RWMutex
	dailyAmount   float64
	avgProcessing float64
	breakerState  string
}

func NewPrometheusMetrics() MetricsService {
	m := &prometheusMetrics{
		startTime:    time.Now(),
		breakerState: "CLOSED",
	}

	m.initMetrics()
	return m
}

func (m *prometheusMetrics) initMetrics() {
	// Transaction lifecycle metrics
	m.transactionsInitiatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transaction_api_transactions_initiated_total",
			Help: "Total number of transactions accepted for processing",
		},
	)

	m.transactionsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transaction_api_transactions_completed_total",
			Help: "Total number of transactions that completed successfully",
		},
	)

	m.transactionsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_api_transactions_failed_total",
			Help: "Total number of failed transactions by failure reason",
		},
		[]string{"reason"},
	)

	m.transactionsReversedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transaction_api_transactions_reversed_total",
			Help: "Total number of reversed transactions",
		},
	)

	m.transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_api_transactions_total",
			Help: "Total number of transaction status transitions by type and status",
		},
		[]string{"type", "status"},
	)

	m.processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transaction_api_processing_duration_seconds",
			Help:    "Transaction processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"type"},
	)

	m.activeTransactionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_active_transactions",
			Help: "Number of transactions currently being processed",
		},
	)

	m.pendingTransactionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_pending_transactions",
			Help: "Number of transactions in PROCESSING status in the store",
		},
	)

	m.dailyVolumeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_daily_volume",
			Help: "Number of transactions completed since the last daily reset",
		},
	)

	m.dailyAmountGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_daily_amount",
			Help: "Sum of amounts completed since the last daily reset",
		},
	)

	// Account service client metrics
	m.accountServiceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_api_account_service_errors_total",
			Help: "Total number of failed account service calls by operation",
		},
		[]string{"operation"},
	)

	m.accountValidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transaction_api_account_validation_duration_seconds",
			Help:    "Account lookup and validation call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	m.balanceOperationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transaction_api_balance_operation_duration_seconds",
			Help:    "Balance operation call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	m.circuitBreakerStateGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_circuit_breaker_state",
			Help: "Account service circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	m.consecutiveErrorsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_account_service_consecutive_errors",
			Help: "Consecutive failed account service calls since the last success",
		},
	)

	// Limit metrics
	m.limitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_api_limit_rejections_total",
			Help: "Total number of transactions rejected by limits by dimension",
		},
		[]string{"reason"},
	)

	// Alert metrics
	m.alertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_api_alerts_triggered_total",
			Help: "Total number of alerts triggered",
		},
		[]string{"level", "type"},
	)

	m.alertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_api_alerts_suppressed_total",
			Help: "Total number of alerts suppressed within the suppression window",
		},
		[]string{"level", "type"},
	)

	// HTTP metrics
	m.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transaction_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Health metrics
	m.componentUpGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transaction_api_component_up",
			Help: "Whether a dependency is up (1) or down (0)",
		},
		[]string{"component"},
	)

	m.memoryUsageGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_memory_usage_bytes",
			Help: "Current heap allocation in bytes",
		},
	)

	m.goroutineCountGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_goroutines_count",
			Help: "Current number of goroutines",
		},
	)

	m.uptimeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_api_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
}

// Transaction lifecycle metrics implementation
func (m *prometheusMetrics) RecordTransactionInitiated(transactionType string) {
	m.transactionsInitiatedTotal.Inc()
	m.transactionsTotal.WithLabelValues(transactionType, "PROCESSING").Inc()
}

func (m *prometheusMetrics) RecordTransactionCompleted(transactionType string, amount float64, duration time.Duration) {
	m.transactionsCompletedTotal.Inc()
	m.transactionsTotal.WithLabelValues(transactionType, "COMPLETED").Inc()
	m.processingDuration.WithLabelValues(transactionType).Observe(duration.Seconds())
	atomic.AddInt64(&m.completedCount, 1)

	volume := atomic.AddInt64(&m.dailyVolumeCount, 1)
	m.dailyVolumeGauge.Set(float64(volume))

	m.mu.Lock()
	m.dailyAmount += amount
	m.dailyAmountGauge.Set(m.dailyAmount)
	m.updateAvgProcessing(duration)
	m.mu.Unlock()
}

func (m *prometheusMetrics) RecordTransactionFailed(transactionType, reason string, duration time.Duration) {
	m.transactionsFailedTotal.WithLabelValues(reason).Inc()
	m.transactionsTotal.WithLabelValues(transactionType, "FAILED").Inc()
	m.processingDuration.WithLabelValues(transactionType).Observe(duration.Seconds())
	atomic.AddInt64(&m.failedCount, 1)

	m.mu.Lock()
	m.updateAvgProcessing(duration)
	m.mu.Unlock()
}

// updateAvgProcessing keeps an exponential moving average of processing
// time for the slow-processing alert check. Caller holds mu.
func (m *prometheusMetrics) updateAvgProcessing(duration time.Duration) {
	seconds := duration.Seconds()
	if m.avgProcessing == 0 {
		m.avgProcessing = seconds
		return
	}
	m.avgProcessing = 0.8*m.avgProcessing + 0.2*seconds
}

func (m *prometheusMetrics) RecordTransactionReversed(transactionType string) {
	m.transactionsReversedTotal.Inc()
	m.transactionsTotal.WithLabelValues(transactionType, "REVERSED").Inc()
}

func (m *prometheusMetrics) IncrementActiveTransactions() {
	m.activeTransactionsGauge.Set(float64(atomic.AddInt64(&m.activeCount, 1)))
}

func (m *prometheusMetrics) DecrementActiveTransactions() {
	m.activeTransactionsGauge.Set(float64(atomic.AddInt64(&m.activeCount, -1)))
}

func (m *prometheusMetrics) SetPendingTransactions(count int64) {
	atomic.StoreInt64(&m.pendingCount, count)
	m.pendingTransactionsGauge.Set(float64(count))
}

func (m *prometheusMetrics) ResetDailyCounters() {
	atomic.StoreInt64(&m.dailyVolumeCount, 0)
	m.dailyVolumeGauge.Set(0)

	m.mu.Lock()
	m.dailyAmount = 0
	m.dailyAmountGauge.Set(0)
	m.mu.Unlock()
}

// Account service client metrics implementation
func (m *prometheusMetrics) RecordAccountServiceCall(operation string, duration time.Duration, failed bool) {
	if operation == "apply_balance_op" {
		m.balanceOperationDuration.Observe(duration.Seconds())
	} else {
		m.accountValidationDuration.Observe(duration.Seconds())
	}

	if !failed {
		atomic.StoreInt64(&m.consecutiveErrors, 0)
		m.consecutiveErrorsGauge.Set(0)
		return
	}

	m.accountServiceErrorsTotal.WithLabelValues(operation).Inc()
	m.consecutiveErrorsGauge.Set(float64(atomic.AddInt64(&m.consecutiveErrors, 1)))
}

func (m *prometheusMetrics) SetCircuitBreakerState(state string) {
	var value float64
	switch state {
	case "OPEN":
		value = 1
	case "HALF_OPEN":
		value = 2
	}
	m.circuitBreakerStateGauge.Set(value)

	m.mu.Lock()
	m.breakerState = state
	m.mu.Unlock()
}

// Limit metrics implementation
func (m *prometheusMetrics) RecordLimitRejection(reason string) {
	m.limitRejectionsTotal.WithLabelValues(reason).Inc()
}

// Alert metrics implementation
func (m *prometheusMetrics) RecordAlertTriggered(level, alertType string) {
	m.alertsTriggeredTotal.WithLabelValues(level, alertType).Inc()
}

func (m *prometheusMetrics) RecordAlertSuppressed(level, alertType string) {
	m.alertsSuppressedTotal.WithLabelValues(level, alertType).Inc()
}

// HTTP metrics implementation
func (m *prometheusMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Health metrics implementation
func (m *prometheusMetrics) SetComponentUp(component string, up bool) {
	value := 0.0
	if up {
		value = 1.0
	}
	m.componentUpGauge.WithLabelValues(component).Set(value)
}

func (m *prometheusMetrics) RecordSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsageGauge.Set(float64(memStats.Alloc))
	m.goroutineCountGauge.Set(float64(runtime.NumGoroutine()))
	m.uptimeGauge.Set(time.Since(m.startTime).Seconds())
}

func (m *prometheusMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	dailyAmount := m.dailyAmount
	avgProcessing := m.avgProcessing
	breakerState := m.breakerState
	m.mu.RUnlock()

	return Snapshot{
		CompletedTotal:           atomic.LoadInt64(&m.completedCount),
		FailedTotal:              atomic.LoadInt64(&m.failedCount),
		ActiveTransactions:       atomic.LoadInt64(&m.activeCount),
		PendingTransactions:      atomic.LoadInt64(&m.pendingCount),
		DailyVolume:              atomic.LoadInt64(&m.dailyVolumeCount),
		DailyAmount:              dailyAmount,
		AvgProcessingSeconds:     avgProcessing,
		ConsecutiveAccountErrors: atomic.LoadInt64(&m.consecutiveErrors),
		CircuitBreakerState:      breakerState,
		UptimeSeconds:            time.Since(m.startTime).Seconds(),
	}
}

// StartSystemMetricsRecording refreshes memory, goroutine and uptime gauges
// on a fixed interval until stop is closed.
func StartSystemMetricsRecording(metrics MetricsService, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.RecordSystemMetrics()
			case <-stop:
				return
			}
		}
	}()
}
