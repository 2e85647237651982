package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drawctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drawctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drawctl",
			Subsystem: "relay",
			Name:      "commands_total",
			Help:      "Commands finished by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drawctl",
			Subsystem: "relay",
			Name:      "command_duration_seconds",
			Help:      "Time from dispatch to terminal result.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action", "outcome"},
	)
	commandsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "drawctl",
			Subsystem: "relay",
			Name:      "commands_pending",
			Help:      "Commands awaiting a result.",
		},
	)
	peerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "drawctl",
			Subsystem: "relay",
			Name:      "peer_connected",
			Help:      "1 while an editor agent is registered.",
		},
	)
	peerConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drawctl",
			Subsystem: "relay",
			Name:      "peer_connections_total",
			Help:      "Editor agent connections accepted.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			commandsTotal,
			commandDuration,
			commandsPending,
			peerConnected,
			peerConnections,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCommand(action, outcome string, duration time.Duration) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(action, outcome).Inc()
	commandDuration.WithLabelValues(action, outcome).Observe(duration.Seconds())
}

func SetCommandsPending(n int) {
	RegisterMetrics()
	commandsPending.Set(float64(n))
}

func RecordPeerConnected() {
	RegisterMetrics()
	peerConnections.Inc()
	peerConnected.Set(1)
}

func SetPeerConnected(connected bool) {
	RegisterMetrics()
	if connected {
		peerConnected.Set(1)
		return
	}
	peerConnected.Set(0)
}
