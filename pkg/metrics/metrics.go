package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	SessionsReaped   prometheus.Counter
	SessionsFlushed  *prometheus.CounterVec
	SamplesIngested  *prometheus.CounterVec
	SamplesRejected  *prometheus.CounterVec
	SampleBatchFlush *prometheus.HistogramVec

	// Analysis metrics
	AnalysesGenerated *prometheus.CounterVec
	AnalysisDuration  *prometheus.HistogramVec
	FixationsDetected *prometheus.CounterVec
	SaccadesDetected  *prometheus.CounterVec

	// External analyzer metrics
	AnalyzerRequestsTotal *prometheus.CounterVec
	AnalyzerLatency       *prometheus.HistogramVec
	AnalyzerErrors        *prometheus.CounterVec

	// Storage metrics
	StoreRequestsTotal *prometheus.CounterVec
	StoreLatency       *prometheus.HistogramVec
	StoreErrors        *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge

	// Websocket metrics
	WebsocketConnectionsActive prometheus.Gauge
	WebsocketMessagesReceived  *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		// Initialize session metrics
		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gaze_sessions_active",
				Help: "Number of active tracking sessions",
			},
		)

		SessionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_sessions_total",
				Help: "Total number of tracking sessions started",
			},
			[]string{"capture_type"},
		)

		SessionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gaze_session_duration_seconds",
				Help:    "Duration of completed tracking sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9 hours
			},
			[]string{"capture_type"},
		)

		SessionsReaped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gaze_sessions_reaped_total",
				Help: "Total number of idle sessions force-disconnected by the reaper",
			},
		)

		SessionsFlushed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_session_flushes_total",
				Help: "Total number of durable sample flushes",
			},
			[]string{"trigger"},
		)

		SamplesIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_samples_ingested_total",
				Help: "Total number of gaze samples accepted",
			},
			[]string{"transport"},
		)

		SamplesRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_samples_rejected_total",
				Help: "Total number of gaze samples rejected by validation",
			},
			[]string{"reason"},
		)

		SampleBatchFlush = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gaze_sample_batch_flush_seconds",
				Help:    "Time taken to flush a session's samples to the durable store",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"trigger"},
		)

		// Initialize analysis metrics
		AnalysesGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_analyses_generated_total",
				Help: "Total number of gaze analyses generated",
			},
			[]string{"status"},
		)

		AnalysisDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gaze_analysis_duration_seconds",
				Help:    "Time taken to generate a gaze analysis",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"capture_type"},
		)

		FixationsDetected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_fixations_detected_total",
				Help: "Total number of fixations detected across analyses",
			},
			[]string{"capture_type"},
		)

		SaccadesDetected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_saccades_detected_total",
				Help: "Total number of saccades detected across analyses",
			},
			[]string{"capture_type"},
		)

		// Initialize external analyzer metrics
		AnalyzerRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_analyzer_requests_total",
				Help: "Total number of external analyzer requests",
			},
			[]string{"provider", "status"},
		)

		AnalyzerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gaze_analyzer_latency_seconds",
				Help:    "Latency of external analyzer requests",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
			},
			[]string{"provider"},
		)

		AnalyzerErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_analyzer_errors_total",
				Help: "Total number of external analyzer failures",
			},
			[]string{"provider", "error_type"},
		)

		// Initialize storage metrics
		StoreRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_store_requests_total",
				Help: "Total number of durable store requests",
			},
			[]string{"backend", "op"},
		)

		StoreLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gaze_store_latency_seconds",
				Help:    "Latency of durable store requests",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"backend", "op"},
		)

		StoreErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_store_errors_total",
				Help: "Total number of durable store errors",
			},
			[]string{"backend", "op"},
		)

		// Initialize AMQP metrics
		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
			[]string{"error_type"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gaze_amqp_connection_status",
				Help: "Status of AMQP connection (1 = connected, 0 = disconnected)",
			},
		)

		// Initialize websocket metrics
		WebsocketConnectionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gaze_websocket_connections_active",
				Help: "Number of active websocket ingest connections",
			},
		)

		WebsocketMessagesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gaze_websocket_messages_received_total",
				Help: "Total number of websocket messages received",
			},
			[]string{"type"},
		)

		// Register all metrics
		registry.MustRegister(
			// Session metrics
			SessionsActive,
			SessionsTotal,
			SessionDuration,
			SessionsReaped,
			SessionsFlushed,
			SamplesIngested,
			SamplesRejected,
			SampleBatchFlush,

			// Analysis metrics
			AnalysesGenerated,
			AnalysisDuration,
			FixationsDetected,
			SaccadesDetected,

			// External analyzer metrics
			AnalyzerRequestsTotal,
			AnalyzerLatency,
			AnalyzerErrors,

			// Storage metrics
			StoreRequestsTotal,
			StoreLatency,
			StoreErrors,

			// AMQP metrics
			AMQPPublishedMessages,
			AMQPConnectionErrors,
			AMQPConnectionStatus,

			// Websocket metrics
			WebsocketConnectionsActive,
			WebsocketMessagesReceived,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.Info("Metrics collection initialized")
}

// RecordSampleIngested records an accepted gaze sample
func RecordSampleIngested(transport string) {
	if metricsEnabled && SamplesIngested != nil {
		SamplesIngested.WithLabelValues(transport).Inc()
	}
}

// RecordSampleRejected records a rejected gaze sample
func RecordSampleRejected(reason string) {
	if metricsEnabled && SamplesRejected != nil {
		SamplesRejected.WithLabelValues(reason).Inc()
	}
}

// RecordAnalysisGenerated records a generated analysis
func RecordAnalysisGenerated(status string) {
	if metricsEnabled && AnalysesGenerated != nil {
		AnalysesGenerated.WithLabelValues(status).Inc()
	}
}

// RecordAnalyzerRequest records an external analyzer call
func RecordAnalyzerRequest(provider, status string) {
	if metricsEnabled && AnalyzerRequestsTotal != nil {
		AnalyzerRequestsTotal.WithLabelValues(provider, status).Inc()
	}
}

// RecordStoreRequest records a durable store request
func RecordStoreRequest(backend, op string) {
	if metricsEnabled && StoreRequestsTotal != nil {
		StoreRequestsTotal.WithLabelValues(backend, op).Inc()
	}
}

// RecordStoreError records a durable store failure
func RecordStoreError(backend, op string) {
	if metricsEnabled && StoreErrors != nil {
		StoreErrors.WithLabelValues(backend, op).Inc()
	}
}
