// Package metrics provides Prometheus instrumentation for the parley chat
// gateway. It exposes gauges for connection and session counts, counters for
// message and interaction throughput, and histograms for routing latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// SessionsTotal tracks the current number of authenticated sessions held
	// in the session registry.
	SessionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_total",
		Help: "Current number of authenticated sessions",
	})

	// HandshakesTotal counts handshake outcomes, labeled by result:
	// "accepted", "missing_credential", "invalid_credential", "unknown_user",
	// "rate_limited" or "error".
	HandshakesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_handshakes_total",
		Help: "Total number of WebSocket handshakes by outcome",
	}, []string{"result"})

	// MessagesTotal counts send-message outcomes, labeled by result:
	// "pushed", "stored" (recipient offline) or an error code.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_total",
		Help: "Total number of direct messages processed",
	}, []string{"result"})

	// InteractionsTotal counts like and comment outcomes.
	InteractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_interactions_total",
		Help: "Total number of message interactions processed",
	}, []string{"kind", "result"}) // kind = "like", "comment"

	// RouteLatency records router operation latency in seconds.
	RouteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_route_latency_seconds",
		Help:    "Router operation latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op"})

	// BroadcastRecipients records how many connections received each room
	// broadcast.
	BroadcastRecipients = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_broadcast_recipients",
		Help:    "Number of connections reached by a room broadcast",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SessionsTotal,
		HandshakesTotal,
		MessagesTotal,
		InteractionsTotal,
		RouteLatency,
		BroadcastRecipients,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
