package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the pub/sub broker.
// Scraped from /metrics and visualized in Grafana.
var (
	// Connection metrics
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	// Broker state
	TopicsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_topics_active",
		Help: "Current number of topics",
	})

	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_subscribers_active",
		Help: "Current number of subscribers across all topics",
	})

	// Message flow
	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_messages_published_total",
		Help: "Total number of messages accepted for publish",
	})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_events_delivered_total",
		Help: "Total number of event frames written to subscribers",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_events_dropped_total",
		Help: "Total number of queued frames evicted by the drop-oldest overflow policy",
	})

	// Reliability metrics
	SlowConsumersDisconnected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_slow_consumers_disconnected_total",
		Help: "Total number of subscribers disconnected under the disconnect overflow policy",
	})

	RateLimitedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_rate_limited_frames_total",
		Help: "Total number of inbound frames rejected by per-connection rate limiting",
	})

	ErrorFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_error_frames_total",
		Help: "Total number of error frames sent to clients, by code",
	}, []string{"code"})

	// System metrics
	CPUUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_cpu_usage_percent",
		Help: "Current process CPU usage percentage",
	})

	MemoryUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_memory_bytes",
		Help: "Current process resident memory in bytes",
	})

	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_goroutines",
		Help: "Current goroutine count",
	})
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
