/*
Package metrics exposes Prometheus collectors for the chat core.

Sessions and rooms:
  - chat_sessions_active (gauge)
  - chat_rooms_active (gauge)
  - chat_messages_received_total (counter)
  - chat_events_delivered_total (counter)
  - chat_deliveries_dropped_total (counter): slow or closed members evicted on broadcast
  - chat_decode_failures_total (counter)
  - chat_handshake_failures_total (counter, label reason)

Persistence:
  - chat_persist_total (counter, label result)
  - chat_persist_queue_depth (gauge)
  - chat_persist_duration_seconds (histogram)
  - chat_persist_breaker_state (gauge): 0=closed, 1=half-open, 2=open
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_active",
		Help: "Open chat sessions",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Rooms with at least one member",
	})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "Inbound chat envelopes decoded successfully",
	})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_events_delivered_total",
		Help: "Events enqueued to room members",
	})

	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_dropped_total",
		Help: "Deliveries refused by a full or closed member queue",
	})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_decode_failures_total",
		Help: "Malformed inbound envelopes (session terminated)",
	})

	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_handshake_failures_total",
		Help: "Refused websocket handshakes",
	}, []string{"reason"})

	PersistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_persist_total",
		Help: "Message persistence outcomes",
	}, []string{"result"})

	PersistQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_persist_queue_depth",
		Help: "Jobs waiting for a persistence worker",
	})

	PersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_persist_duration_seconds",
		Help:    "Time spent writing one message",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	PersistBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_persist_breaker_state",
		Help: "Persistence circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

// Persist outcome labels.
const (
	ResultOK          = "ok"
	ResultFailed      = "failed"
	ResultRejected    = "rejected"
	ResultDropped     = "dropped"
	ResultBreakerOpen = "breaker_open"
)

// RecordPersist counts one persistence outcome and its latency.
func RecordPersist(result string, d time.Duration) {
	PersistTotal.WithLabelValues(result).Inc()
	if d > 0 {
		PersistDuration.Observe(d.Seconds())
	}
}
