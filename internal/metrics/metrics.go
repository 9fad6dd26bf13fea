package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_sessions_created_total",
			Help: "Total number of orchestration sessions created",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brick_sessions_closed_total",
			Help: "Total number of orchestration sessions closed",
		},
		[]string{"status"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "brick_sessions_active",
			Help: "Number of sessions currently live in the registry",
		},
	)

	// Registry cache metrics
	RegistryCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_registry_cache_hits_total",
			Help: "Total number of registry cache hits",
		},
	)

	RegistryCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_registry_cache_misses_total",
			Help: "Total number of registry cache misses (store fallback)",
		},
	)

	RegistryCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "brick_registry_cache_size",
			Help: "Current number of sessions held in the registry",
		},
	)

	RegistryCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_registry_cache_evictions_total",
			Help: "Total number of sessions evicted from the registry",
		},
	)

	// Task metrics
	TasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brick_tasks_executed_total",
			Help: "Total number of analysis tasks executed",
		},
		[]string{"analysis_type", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brick_task_duration_seconds",
			Help:    "Analysis task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"analysis_type"},
	)

	TaskTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_task_timeouts_total",
			Help: "Total number of analysis tasks that exceeded the execution bound",
		},
	)

	// Storage metrics
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brick_storage_errors_total",
			Help: "Total number of durable store failures",
		},
		[]string{"operation"},
	)

	// UBIC control-plane metrics
	UBICMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brick_ubic_messages_received_total",
			Help: "Total number of UBIC messages received",
		},
		[]string{"service", "type", "status"},
	)

	UBICDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brick_ubic_duplicate_messages_total",
			Help: "Total number of UBIC messages suppressed by idempotency dedup",
		},
		[]string{"service"},
	)

	UBICMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brick_ubic_messages_sent_total",
			Help: "Total number of UBIC messages accepted by the local bus",
		},
		[]string{"service", "status"},
	)

	// Memory storage metrics
	MemoryItemsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_memory_items_stored_total",
			Help: "Total number of memory items stored",
		},
	)

	MemoryCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_memory_cache_hits_total",
			Help: "Total number of memory reads served from cache",
		},
	)

	MemoryCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brick_memory_cache_misses_total",
			Help: "Total number of memory reads that fell back to the store",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brick_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brick_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordTaskMetrics records metrics for a finished analysis task
func RecordTaskMetrics(analysisType, status string, durationSeconds float64) {
	TasksExecuted.WithLabelValues(analysisType, status).Inc()
	if durationSeconds > 0 {
		TaskDuration.WithLabelValues(analysisType).Observe(durationSeconds)
	}
}

// RecordUBICReceive records a processed control-plane message
func RecordUBICReceive(service, msgType, status string) {
	UBICMessagesReceived.WithLabelValues(service, msgType, status).Inc()
}

// RecordStorageError increments the storage failure counter for an operation
func RecordStorageError(operation string) {
	StorageErrors.WithLabelValues(operation).Inc()
}
