package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/namhbcf1/kho1-sub001/pkg/config"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   prometheus.CounterVec
	HttpRequestDuration prometheus.HistogramVec

	// Authentication metrics
	LoginCounter       prometheus.Counter
	RegisterCounter    prometheus.Counter
	AuthErrorsCounter  prometheus.CounterVec

	// Database operation metrics
	DbOperationDuration prometheus.HistogramVec

	// Order engine metrics
	OrderOperationsCounter prometheus.CounterVec
	OrderConflictRetries   prometheus.Counter
	OrderValueHistogram    prometheus.Histogram

	// Inventory metrics
	StockOperationsCounter prometheus.CounterVec
	ReservationsCounter    prometheus.CounterVec
	SweptReservations      prometheus.Counter
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(config *config.Config) {
	// Use metric prefix from configuration
	prefix := config.Metrics.Prefix

	// HTTP request metrics
	HttpRequestsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration
	HttpRequestDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Authentication metrics
	LoginCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_login_attempts_total",
			Help: "Total number of login attempts",
		},
	)

	RegisterCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_register_attempts_total",
			Help: "Total number of registration attempts",
		},
	)

	AuthErrorsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"reason"},
	)

	// Database operation metrics
	DbOperationDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	// Order engine metrics
	OrderOperationsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_order_operations_total",
			Help: "Total number of order operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	OrderConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_order_conflict_retries_total",
			Help: "Total number of order attempts retried after a stock version conflict",
		},
	)

	OrderValueHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_order_value",
			Help:    "Value of completed orders",
			Buckets: prometheus.ExponentialBuckets(1000, 10, 7),
		},
	)

	// Inventory metrics
	StockOperationsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_stock_operations_total",
			Help: "Total number of stock mutations by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	ReservationsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_reservations_total",
			Help: "Total number of reservation operations",
		},
		[]string{"operation"},
	)

	SweptReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_reservations_swept_total",
			Help: "Total number of expired reservations reclaimed by the sweeper",
		},
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordAuthError increments the counter for authentication errors
func RecordAuthError(reason string) {
	AuthErrorsCounter.WithLabelValues(reason).Inc()
}

// RecordOrderOperation increments the counter for order operations
func RecordOrderOperation(operation, outcome string) {
	OrderOperationsCounter.WithLabelValues(operation, outcome).Inc()
}

// RecordStockOperation increments the counter for stock mutations
func RecordStockOperation(mode, outcome string) {
	StockOperationsCounter.WithLabelValues(mode, outcome).Inc()
}

// RecordReservationOperation increments the counter for reservation operations
func RecordReservationOperation(operation string) {
	ReservationsCounter.WithLabelValues(operation).Inc()
}
