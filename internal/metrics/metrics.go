// Package metrics provides Prometheus instrumentation for the studio chat
// services. It exposes gauges for connection and room counts, counters for
// message, report and upload outcomes, and a histogram for store latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studiochat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks rooms with at least one connected participant.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studiochat_active_rooms",
		Help: "Current number of rooms with connected participants",
	})

	// RoomDispatchers tracks running per-room dispatcher goroutines.
	RoomDispatchers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studiochat_room_dispatchers",
		Help: "Current number of running room dispatchers",
	})

	// MessagesTotal counts channel messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiochat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"}) // outcome = "sent", "rejected", "rate_limited", "blocked"

	// PersistLatency records store latency in seconds by operation.
	PersistLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studiochat_persist_latency_seconds",
		Help:    "Message store latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})

	// ReportsTotal counts report lifecycle events: "created", "duplicate",
	// "reviewed", "resolved".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiochat_reports_total",
		Help: "Report lifecycle events",
	}, []string{"event"})

	// UploadsTotal counts upload attempts by result.
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiochat_uploads_total",
		Help: "Attachment uploads by result",
	}, []string{"result"}) // result = "accepted", "unsupported", "too_large", "error"

	// ModerationActions counts administrator actions by kind.
	ModerationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studiochat_moderation_actions_total",
		Help: "Administrator moderation actions",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		RoomDispatchers,
		MessagesTotal,
		PersistLatency,
		ReportsTotal,
		UploadsTotal,
		ModerationActions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
