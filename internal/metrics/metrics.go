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
			Help: "Total HTTP requests to the side endpoints",
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

	// Room metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_rooms_live",
			Help: "Rooms currently held by the registry",
		},
	)

	MembersJoined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_members_joined_total",
			Help: "Total successful room joins",
		},
	)

	MessagesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_broadcast_total",
			Help: "Total messages broadcast to rooms",
		},
		[]string{"kind"}, // "text" or "voice"
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_send_failures_total",
			Help: "Outbound sends that failed and were skipped",
		},
		[]string{"path"}, // "broadcast", "history" or "reply"
	)

	// Dispatch metrics
	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_commands_total",
			Help: "Commands processed by the dispatcher",
		},
		[]string{"command"},
	)

	DispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_dispatch_errors_total",
			Help: "Commands answered with an error reply",
		},
		[]string{"reason"},
	)

	// Worker pool metrics
	PoolTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_pool_tasks_total",
			Help: "Tasks offered to the worker pool",
		},
		[]string{"result"}, // "queued", "rejected", "done", "panicked"
	)

	PoolQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_pool_queue_depth",
			Help: "Tasks waiting in the worker pool queue",
		},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Open WebSocket connections",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rate_limit_hits_total",
			Help: "Connections closed for exceeding the message rate",
		},
	)
)
