// Package metrics provides Prometheus metrics for the vitals risk service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	scoreBuckets   []float64
	constLabels    map[string]string
	registry       prometheus.Registerer

	// Ingestion
	readingsIngested  prometheus.Counter
	readingsDuplicate prometheus.Counter
	ingestFailures    *prometheus.CounterVec
	predictions       *prometheus.CounterVec
	riskScore         prometheus.Histogram
	scoringLatency    prometheus.Histogram
	outcomesRecorded  *prometheus.CounterVec
	totalPatients     prometheus.Gauge

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Feed queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueDropped       prometheus.Counter
	queueLatency       prometheus.Histogram
	feedPublished      prometheus.Counter
	feedPublishErrors  prometheus.Counter
	feedPublishLatency prometheus.Histogram

	// Feed workers
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "vitalrisk",
		subsystem:      "service",
		latencyBuckets: prometheus.DefBuckets,
		scoreBuckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		constLabels:    make(map[string]string),
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.latencyBuckets, ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.readingsIngested = m.counter("readings_ingested_total", "Total number of vitals readings stored with a prediction")
	m.readingsDuplicate = m.counter("readings_duplicate_total", "Total number of readings answered from an earlier event_id")
	m.ingestFailures = m.counterVec("ingest_failures_total", "Total number of rejected or failed ingests by kind", "kind")
	m.predictions = m.counterVec("predictions_total", "Total number of predictions by risk category", "category")
	m.riskScore = m.histogram("risk_score", "Distribution of computed risk scores", m.scoreBuckets)
	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Histogram of scoring latency in milliseconds", m.latencyBuckets)
	m.outcomesRecorded = m.counterVec("outcomes_recorded_total", "Total number of actual outcomes recorded", "outcome")
	m.totalPatients = m.gauge("total_patients", "Total number of registered patients")

	m.storeLatency = m.histogramVec("store_operation_duration_milliseconds", "Store operation latency in milliseconds", "operation")
	m.storeErrors = m.counterVec("store_errors_total", "Total number of store failures by operation", "operation")

	m.queueSize = m.gauge("feed_queue_size", "Current number of prediction events waiting to be published")
	m.queueCapacity = m.gauge("feed_queue_capacity", "Maximum feed queue capacity")
	m.queueUtilization = m.gauge("feed_queue_utilization_ratio", "Feed queue utilization ratio (0-1)")
	m.queueEnqueued = m.counter("feed_queue_enqueued_total", "Total number of prediction events enqueued")
	m.queueDequeued = m.counter("feed_queue_dequeued_total", "Total number of prediction events dequeued")
	m.queueDropped = m.counter("feed_queue_dropped_total", "Total number of prediction events dropped because the queue was full")
	m.queueLatency = m.histogram("feed_queue_latency_milliseconds", "Time prediction events spend queued", m.latencyBuckets)
	m.feedPublished = m.counter("feed_published_total", "Total number of prediction events published to the stream")
	m.feedPublishErrors = m.counter("feed_publish_errors_total", "Total number of failed stream publishes")
	m.feedPublishLatency = m.histogram("feed_publish_latency_milliseconds", "Stream publish latency in milliseconds", m.latencyBuckets)

	m.workerActiveCount = m.gauge("feed_worker_active_count", "Number of feed workers currently publishing")
	m.workerIdleCount = m.gauge("feed_worker_idle_count", "Number of idle feed workers")
	m.workerProcessingLatency = m.histogram("feed_worker_processing_latency_milliseconds", "Feed worker processing latency", m.latencyBuckets)
	m.workerErrors = m.counter("feed_worker_errors_total", "Total number of feed worker errors")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordReadingIngested increments the stored readings counter.
func RecordReadingIngested() {
	globalManager.readingsIngested.Inc()
}

// RecordReadingDuplicate increments the duplicate readings counter.
func RecordReadingDuplicate() {
	globalManager.readingsDuplicate.Inc()
}

// RecordIngestFailure counts a failed ingest by failure kind.
func RecordIngestFailure(kind string) {
	globalManager.ingestFailures.WithLabelValues(kind).Inc()
}

// RecordPrediction counts a prediction and observes its score.
func RecordPrediction(category string, score float64) {
	globalManager.predictions.WithLabelValues(category).Inc()
	globalManager.riskScore.Observe(score)
}

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordOutcome counts a recorded outcome.
func RecordOutcome(outcome string) {
	globalManager.outcomesRecorded.WithLabelValues(outcome).Inc()
}

// UpdateTotalPatients sets the registered patient count.
func UpdateTotalPatients(count int) {
	globalManager.totalPatients.Set(float64(count))
}

// RecordStoreLatency records the latency of one store operation.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(operation string) {
	globalManager.storeErrors.WithLabelValues(operation).Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current feed queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum feed queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the feed queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueDropped increments the dropped events counter.
func RecordQueueDropped() {
	globalManager.queueDropped.Inc()
}

// RecordQueueLatency records how long an event waited in the queue.
func RecordQueueLatency(latencyMs float64) {
	globalManager.queueLatency.Observe(latencyMs)
}

// RecordFeedPublished counts a published feed event and its latency.
func RecordFeedPublished(latencyMs float64) {
	globalManager.feedPublished.Inc()
	globalManager.feedPublishLatency.Observe(latencyMs)
}

// RecordFeedPublishError counts a failed feed publish.
func RecordFeedPublishError() {
	globalManager.feedPublishErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
