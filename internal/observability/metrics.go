package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
		[]string{"service"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_events_published_total",
			Help: "Events accepted or rejected by the fan-out engine",
		},
		[]string{"service", "kind", "result"},
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_frames_dropped_total",
			Help: "Outbound frames dropped by slow-consumer backpressure",
		},
		[]string{"service"},
	)

	BroadcastLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fanout_broadcast_latency_seconds",
			Help:    "Latency of one publish from routing to last enqueue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "kind"},
	)
)
