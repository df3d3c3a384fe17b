package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	ConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_connections_open",
			Help: "Currently attached socket connections",
		},
	)

	PresenceEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_presence_entries",
			Help: "Users tracked by the presence registry",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_socket_events_total",
			Help: "Inbound socket events by name",
		},
		[]string{"event"},
	)

	HandlerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_socket_handler_panics_total",
			Help: "Socket event handlers that panicked",
		},
		[]string{"event"},
	)

	DirectMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_direct_messages_total",
			Help: "Direct messages routed, by outcome",
		},
		[]string{"outcome"}, // "delivered", "offline" or "dropped"
	)

	ChannelBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_channel_broadcasts_total",
			Help: "Channel messages fanned out",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_frames_dropped_total",
			Help: "Outbound frames dropped because a connection queue was full",
		},
	)
)
