// Package metrics provides Prometheus instrumentation for the chat client:
// connection state, frame throughput and auth request outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionOpen is 1 while the realtime channel is open.
	ConnectionOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_connection_open",
		Help: "Whether the realtime channel is currently open",
	})

	// ConnectAttempts counts dial attempts, labeled by result: "ok" or "error".
	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_connect_attempts_total",
		Help: "Total number of realtime channel dial attempts",
	}, []string{"result"})

	// ConnectLatency records the WebSocket handshake duration in seconds.
	ConnectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatclient_connect_latency_seconds",
		Help:    "Realtime channel handshake latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// MessagesTotal counts frames, labeled by type: "sent", "dropped",
	// "received" or "malformed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_messages_total",
		Help: "Total number of chat frames handled",
	}, []string{"type"})

	// AuthRequests counts login/register attempts labeled by operation and
	// outcome ("ok", "validation", "rejected", "network").
	AuthRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_auth_requests_total",
		Help: "Total number of authentication attempts",
	}, []string{"op", "outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionOpen,
		ConnectAttempts,
		ConnectLatency,
		MessagesTotal,
		AuthRequests,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
