package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "home_manager_"

	resultSuccess  = "success"
	resultError    = "error"
	resultRejected = "rejected"
	resultSkipped  = "skipped"
)

var (
	registerOnce sync.Once

	ingestTotal     *prometheus.CounterVec
	ingestLatency   *prometheus.HistogramVec
	validationTotal *prometheus.CounterVec

	stepTotal   *prometheus.CounterVec
	stepLatency *prometheus.HistogramVec

	expiryFired    prometheus.Counter
	expiryFailures prometheus.Counter
	armedTimers    prometheus.Gauge
	activeQueues   prometheus.Gauge

	transportMessages *prometheus.CounterVec

	feedExportTotal   *prometheus.CounterVec
	feedExportLatency *prometheus.HistogramVec
)

// Init registers metrics. A non-nil db also registers table-backed gauges.
func Init(db *sql.DB, logger *zap.SugaredLogger) {
	registerOnce.Do(func() {
		ingestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_total",
				Help: "Total status reports by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Status report processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		validationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "validation_rejected_total",
				Help: "Rejected status reports by offending field",
			},
			[]string{"field"},
		)

		stepTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_step_total",
				Help: "Reconciliation steps by step and result",
			},
			[]string{"step", "result"},
		)
		stepLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reconcile_step_latency_seconds",
				Help:    "Reconciliation step latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		)

		expiryFired = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "expiry_fired_total",
			Help: "Devices expired after the silence period",
		})
		expiryFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "expiry_failures_total",
			Help: "Expiry applications that failed and were rescheduled",
		})
		armedTimers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "expiry_armed_timers",
			Help: "Currently armed expiry timers",
		})
		activeQueues = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "device_queues_active",
			Help: "Device serialization queues with pending work",
		})

		transportMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transport_messages_total",
				Help: "Inbound transport messages by transport and outcome",
			},
			[]string{"transport", "outcome"},
		)

		feedExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_export_total",
				Help: "Feed exports by format and result",
			},
			[]string{"format", "result"},
		)
		feedExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "feed_export_latency_seconds",
				Help:    "Feed export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestTotal,
			ingestLatency,
			validationTotal,
			stepTotal,
			stepLatency,
			expiryFired,
			expiryFailures,
			armedTimers,
			activeQueues,
			transportMessages,
			feedExportTotal,
			feedExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records report processing duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestTotal != nil {
		ingestTotal.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncValidationRejected counts a rejected report by its first offending field.
func IncValidationRejected(field string) {
	if field == "" {
		field = "payload"
	}
	if validationTotal != nil {
		validationTotal.WithLabelValues(field).Inc()
	}
}

// ObserveStep records one reconciliation step.
func ObserveStep(step, result string, duration time.Duration) {
	if step == "" {
		step = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if stepTotal != nil {
		stepTotal.WithLabelValues(step, result).Inc()
	}
	if stepLatency != nil && result != resultSkipped {
		stepLatency.WithLabelValues(step).Observe(duration.Seconds())
	}
}

// IncExpiryFired counts a successful synthetic OFF.
func IncExpiryFired() {
	if expiryFired != nil {
		expiryFired.Inc()
	}
}

// IncExpiryFailure counts a failed synthetic OFF.
func IncExpiryFailure() {
	if expiryFailures != nil {
		expiryFailures.Inc()
	}
}

// SetArmedTimers sets the number of armed expiry timers.
func SetArmedTimers(n int) {
	if armedTimers != nil {
		armedTimers.Set(float64(n))
	}
}

// SetActiveDeviceQueues sets the number of device queues holding work.
func SetActiveDeviceQueues(n int) {
	if activeQueues != nil {
		activeQueues.Set(float64(n))
	}
}

// IncTransportMessage counts an inbound message.
func IncTransportMessage(transport, outcome string) {
	if transport == "" {
		transport = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	if transportMessages != nil {
		transportMessages.WithLabelValues(transport, outcome).Inc()
	}
}

// ObserveFeedExport records export latency and result.
func ObserveFeedExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if feedExportTotal != nil {
		feedExportTotal.WithLabelValues(format, result).Inc()
	}
	if feedExportLatency != nil {
		feedExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultRejected = resultRejected
	ResultSkipped  = resultSkipped
)
