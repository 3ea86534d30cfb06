// Package metrics exposes Prometheus collectors for the bot runtime.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardbot_updates_total",
			Help: "Inbound Telegram updates by kind",
		},
		[]string{"kind"},
	)

	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboardbot_handler_duration_seconds",
			Help:    "Time spent handling one update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "status"},
	)

	outboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardbot_outbound_messages_total",
			Help: "Outbound Telegram messages by status",
		},
		[]string{"status"},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardbot_sessions_total",
			Help: "Session lifecycle transitions",
		},
		[]string{"outcome"},
	)

	answersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardbot_answers_total",
			Help: "Answers validated by field and result",
		},
		[]string{"field", "result"},
	)

	sinkAppendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardbot_sink_appends_total",
			Help: "Sink append attempts by sink and status",
		},
		[]string{"sink", "status"},
	)

	sinkAppendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboardbot_sink_append_duration_seconds",
			Help:    "Sink append latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboardbot_active_sessions",
			Help: "Sessions present in the store after the last sweep",
		},
	)

	pendingRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboardbot_pending_records",
			Help: "Completed records still waiting for the sink",
		},
	)

	outboundRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardbot_outbound_retries_total",
			Help: "Telegram API calls retried by error kind",
		},
		[]string{"kind"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onboardbot_rate_limited_total",
			Help: "Updates dropped by the per-user rate limiter",
		},
	)

	initOnce sync.Once
)

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		updatesTotal,
		handlerDuration,
		outboundTotal,
		outboundRetries,
		sessionsTotal,
		answersTotal,
		sinkAppendTotal,
		sinkAppendDuration,
		activeSessions,
		pendingRecords,
		rateLimited,
	}
}

// InitMetrics registers collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// RecordUpdate counts an inbound update.
func RecordUpdate(kind string) {
	updatesTotal.WithLabelValues(kind).Inc()
}

// RecordHandler observes handler latency.
func RecordHandler(handler, status string, d time.Duration) {
	handlerDuration.WithLabelValues(handler, status).Observe(d.Seconds())
}

// RecordOutbound counts a sent or failed reply.
func RecordOutbound(status string) {
	outboundTotal.WithLabelValues(status).Inc()
}

// RecordOutboundRetry counts one retried Telegram API call.
func RecordOutboundRetry(kind string) {
	outboundRetries.WithLabelValues(kind).Inc()
}

// RecordSession counts a lifecycle outcome: started, completed, cancelled, expired, dropped.
func RecordSession(outcome string) {
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAnswer counts an accepted or rejected answer.
func RecordAnswer(field string, accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	answersTotal.WithLabelValues(field, result).Inc()
}

// RecordSinkAppend counts one append attempt and observes its latency.
func RecordSinkAppend(sink string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "fail"
	}
	sinkAppendTotal.WithLabelValues(sink, status).Inc()
	sinkAppendDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// SetSessions publishes store occupancy.
func SetSessions(active, pending int) {
	activeSessions.Set(float64(active))
	pendingRecords.Set(float64(pending))
}

// RecordRateLimited counts a throttled update.
func RecordRateLimited() {
	rateLimited.Inc()
}
