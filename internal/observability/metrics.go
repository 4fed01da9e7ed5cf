package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreFailures counts writes that did not reach the durable medium.
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinity_store_failures_total",
		Help: "Total number of durable store writes that failed, by key and reason",
	}, []string{"key", "reason"})

	// StoreCorruptLoads counts loads that found undecodable content.
	StoreCorruptLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinity_store_corrupt_loads_total",
		Help: "Total number of loads that substituted an empty collection for corrupt content",
	}, []string{"key"})

	// StoreLatency records durable store latency by operation.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infinity_store_latency_seconds",
		Help:    "Durable store operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "backend"})

	// BusPublished counts change events published, by path and kind.
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinity_bus_published_total",
		Help: "Total number of change events published",
	}, []string{"path", "kind"})

	// BusReceived counts change events received, by path and kind.
	BusReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinity_bus_received_total",
		Help: "Total number of change events received",
	}, []string{"path", "kind"})

	// BusDropped counts change events that were discarded.
	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinity_bus_dropped_total",
		Help: "Total number of change events dropped, by path and reason",
	}, []string{"path", "reason"})

	// RelayReconnects counts relay reconnect attempts.
	RelayReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infinity_relay_reconnects_total",
		Help: "Total number of relay reconnect attempts",
	})

	// RelayConnected is 1 while the relay connection is up.
	RelayConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "infinity_relay_connected",
		Help: "Whether the relay connection is currently established",
	})

	// RelayPeers is the number of peers attached to a relay node.
	RelayPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "infinity_relay_peers",
		Help: "Number of websocket peers connected to this relay node",
	})

	// RelayBackpressureDrops counts frames a relay node dropped for a slow peer.
	RelayBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinity_relay_backpressure_drops_total",
		Help: "Total number of relay frames dropped due to backpressure",
	}, []string{"reason"})
)

// TrackStore returns a function that records store latency when called (e.g. defer).
func TrackStore(operation, backend string) func() {
	start := time.Now()
	return func() {
		StoreLatency.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
	}
}
