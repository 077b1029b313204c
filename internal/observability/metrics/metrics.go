package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "plantwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	messagesTotal   *prometheus.CounterVec
	messageLatency  *prometheus.HistogramVec
	messagesDropped *prometheus.CounterVec

	payloadsMalformed prometheus.Counter
	readingsInserted  prometheus.Counter

	anomalyEventsTotal prometheus.Counter

	notificationAttempts *prometheus.CounterVec
	notificationsDropped prometheus.Counter
	notifyQueueDepth     prometheus.Gauge

	trendRequests *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		messagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_total",
				Help: "Total ingested messages by result",
			},
			[]string{"result"},
		)
		messageLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "message_latency_seconds",
				Help:    "Per-message processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		messagesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_dropped_total",
				Help: "Total dropped messages by reason",
			},
			[]string{"reason"},
		)

		payloadsMalformed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "payloads_malformed_total",
				Help: "Total payloads defaulted to (false, 0)",
			},
		)
		readingsInserted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_inserted_total",
				Help: "Total readings appended to the time series",
			},
		)

		anomalyEventsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "anomaly_events_total",
				Help: "Total critical events raised by the detector",
			},
		)

		notificationAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_attempts_total",
				Help: "Total notification delivery attempts by result",
			},
			[]string{"result"},
		)
		notificationsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_dropped_total",
				Help: "Total critical events dropped from a full notify queue",
			},
		)
		notifyQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "notify_queue_depth",
				Help: "Critical events waiting for notification delivery",
			},
		)

		trendRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trend_requests_total",
				Help: "Total trend analysis requests by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			messagesTotal,
			messageLatency,
			messagesDropped,
			payloadsMalformed,
			readingsInserted,
			anomalyEventsTotal,
			notificationAttempts,
			notificationsDropped,
			notifyQueueDepth,
			trendRequests,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "notifications_pending",
			Help: "Notification records awaiting delivery",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM notifications WHERE status = 'pending'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open database connections",
		},
		func() float64 {
			if db == nil {
				return 0
			}
			return float64(db.Stats().OpenConnections)
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

// ObserveMessage records message processing duration and result.
func ObserveMessage(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if messagesTotal != nil {
		messagesTotal.WithLabelValues(result).Inc()
	}
	if messageLatency != nil {
		messageLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncMessageDropped increments the dropped message counter.
func IncMessageDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if messagesDropped != nil {
		messagesDropped.WithLabelValues(reason).Inc()
	}
}

// IncPayloadMalformed increments the malformed payload counter.
func IncPayloadMalformed() {
	if payloadsMalformed != nil {
		payloadsMalformed.Inc()
	}
}

// IncReadingInserted increments the appended readings counter.
func IncReadingInserted() {
	if readingsInserted != nil {
		readingsInserted.Inc()
	}
}

// IncAnomalyEvent increments the critical event counter.
func IncAnomalyEvent() {
	if anomalyEventsTotal != nil {
		anomalyEventsTotal.Inc()
	}
}

// IncNotificationAttempt increments delivery attempt counters.
func IncNotificationAttempt(result string) {
	if result == "" {
		result = resultSuccess
	}
	if notificationAttempts != nil {
		notificationAttempts.WithLabelValues(result).Inc()
	}
}

// IncNotificationDropped increments the queue overflow counter.
func IncNotificationDropped() {
	if notificationsDropped != nil {
		notificationsDropped.Inc()
	}
}

// SetNotifyQueueDepth records the current notify queue depth.
func SetNotifyQueueDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	if notifyQueueDepth != nil {
		notifyQueueDepth.Set(float64(depth))
	}
}

// IncTrendRequest increments trend request counters.
func IncTrendRequest(result string) {
	if result == "" {
		result = resultSuccess
	}
	if trendRequests != nil {
		trendRequests.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
