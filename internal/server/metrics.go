// ABOUTME: Prometheus metrics for the widget gateway
// ABOUTME: Session gauge, message counters, and protocol drop counter

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "widget_active_sessions",
			Help: "Number of live widget sessions.",
		},
	)

	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "widget_messages_sent_total",
			Help: "Total questions sent through the gateway.",
		},
	)

	streamErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "widget_stream_errors_total",
			Help: "Total answer streams that ended with an error event.",
		},
	)

	droppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_dropped_messages_total",
			Help: "Bridge messages dropped by reason (untrusted_origin, rate_limited, malformed).",
		},
		[]string{"reason"},
	)
)

func registerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(activeSessions, messagesSent, streamErrors, droppedMessages)
}
