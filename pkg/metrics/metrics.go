package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Ping metrics
	PingsTotal         *prometheus.CounterVec
	PingProcessingTime prometheus.Histogram
	PingConfidence     prometheus.Histogram
	PingDistanceMeters prometheus.Histogram

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Hardware metrics
	HardwareFailures prometheus.Counter

	// Aggregation metrics
	MeasurementsAggregated *prometheus.CounterVec

	// Publishing metrics
	MeasurementsPublished prometheus.Counter
	PublishErrors         prometheus.Counter

	// Realtime stream metrics
	StreamSubscribers prometheus.Gauge
	StreamEventsSent  prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		PingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echoloc_pings_total",
				Help: "Total number of pings by outcome",
			},
			[]string{"outcome"},
		)

		PingProcessingTime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "echoloc_ping_processing_seconds",
				Help:    "Start-to-finish processing time of a ping",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
		)

		PingConfidence = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "echoloc_ping_confidence",
				Help:    "Per-ping confidence distribution",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		)

		PingDistanceMeters = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "echoloc_ping_distance_meters",
				Help:    "Per-ping estimated distance distribution",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 11), // 5cm to ~50m
			},
		)

		SessionsStarted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "echoloc_sessions_started_total",
				Help: "Total number of ranging sessions started",
			},
		)

		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "echoloc_sessions_active",
				Help: "Number of active ranging sessions",
			},
		)

		SessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "echoloc_session_duration_seconds",
				Help:    "Duration of completed ranging sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
			},
		)

		HardwareFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "echoloc_hardware_failures_total",
				Help: "Total number of audio hardware acquisition or I/O failures",
			},
		)

		MeasurementsAggregated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echoloc_measurements_aggregated_total",
				Help: "Total number of aggregated measurements by reliability verdict",
			},
			[]string{"reliable"},
		)

		MeasurementsPublished = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "echoloc_measurements_published_total",
				Help: "Total number of measurements published to the message queue",
			},
		)

		PublishErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "echoloc_publish_errors_total",
				Help: "Total number of failed measurement publishes",
			},
		)

		StreamSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "echoloc_stream_subscribers",
				Help: "Number of connected realtime stream subscribers",
			},
		)

		StreamEventsSent = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "echoloc_stream_events_sent_total",
				Help: "Total number of events delivered to stream subscribers",
			},
		)

		registry.MustRegister(
			PingsTotal,
			PingProcessingTime,
			PingConfidence,
			PingDistanceMeters,
			SessionsStarted,
			SessionsActive,
			SessionDuration,
			HardwareFailures,
			MeasurementsAggregated,
			MeasurementsPublished,
			PublishErrors,
			StreamSubscribers,
			StreamEventsSent,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry, nil before Init.
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection.
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler.
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// Recording helpers. All are safe to call before Init: metrics recording is
// optional for library consumers that never start the daemon.

// RecordPing records one completed ping attempt.
func RecordPing(outcome string, processingSeconds, confidence, distanceMeters float64) {
	if PingsTotal == nil || !metricsEnabled {
		return
	}
	PingsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		PingProcessingTime.Observe(processingSeconds)
		PingConfidence.Observe(confidence)
		PingDistanceMeters.Observe(distanceMeters)
	}
}

// Ping outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeAborted  = "aborted"
	OutcomeHardware = "hardware_failure"
	OutcomeRejected = "rejected"
)

// RecordSessionStarted records a session start.
func RecordSessionStarted() {
	if SessionsStarted == nil || !metricsEnabled {
		return
	}
	SessionsStarted.Inc()
	SessionsActive.Inc()
}

// RecordSessionStopped records a session completion with its duration.
func RecordSessionStopped(durationSeconds float64) {
	if SessionsActive == nil || !metricsEnabled {
		return
	}
	SessionsActive.Dec()
	SessionDuration.Observe(durationSeconds)
}

// RecordHardwareFailure records an audio hardware failure.
func RecordHardwareFailure() {
	if HardwareFailures == nil || !metricsEnabled {
		return
	}
	HardwareFailures.Inc()
}

// StreamSubscribersInc records a new realtime stream subscriber.
func StreamSubscribersInc() {
	if StreamSubscribers == nil || !metricsEnabled {
		return
	}
	StreamSubscribers.Inc()
}

// StreamSubscribersDec records a realtime stream subscriber leaving.
func StreamSubscribersDec() {
	if StreamSubscribers == nil || !metricsEnabled {
		return
	}
	StreamSubscribers.Dec()
}

// RecordStreamEvent records one event delivered to a stream subscriber.
func RecordStreamEvent() {
	if StreamEventsSent == nil || !metricsEnabled {
		return
	}
	StreamEventsSent.Inc()
}

// RecordPublish records a measurement publish attempt.
func RecordPublish(err error) {
	if MeasurementsPublished == nil || !metricsEnabled {
		return
	}
	if err != nil {
		PublishErrors.Inc()
		return
	}
	MeasurementsPublished.Inc()
}

// RecordAggregation records one aggregated measurement.
func RecordAggregation(reliable bool) {
	if MeasurementsAggregated == nil || !metricsEnabled {
		return
	}
	label := "false"
	if reliable {
		label = "true"
	}
	MeasurementsAggregated.WithLabelValues(label).Inc()
}
