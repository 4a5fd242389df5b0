// Package metrics provides Prometheus instrumentation for the MovieSquad
// chat core. It exposes gauges for connection and conversation counts,
// counters for message and signal throughput, and a histogram for message
// delivery latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections
	// on the reference server.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moviesquad_chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts messages processed, labeled by direction:
	// "sent", "delivered", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moviesquad_chat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"}) // type = "sent", "delivered", "rejected"

	// TypingSignalsTotal counts typing_start/typing_stop relays.
	TypingSignalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moviesquad_chat_typing_signals_total",
		Help: "Total number of typing signals relayed",
	})

	// ReadReceiptsTotal counts mark_read requests applied.
	ReadReceiptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moviesquad_chat_read_receipts_total",
		Help: "Total number of read receipts recorded",
	})

	// DeliveryLatency records server-side message handling latency in seconds,
	// from frame receipt to fan-out publish.
	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moviesquad_chat_delivery_latency_seconds",
		Help:    "Message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ActiveConversations tracks conversations with at least one subscribed
	// connection on this server instance.
	ActiveConversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moviesquad_chat_active_conversations",
		Help: "Current number of conversations with a live subscriber",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		TypingSignalsTotal,
		ReadReceiptsTotal,
		DeliveryLatency,
		ActiveConversations,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
