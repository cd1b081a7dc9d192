// internal/monitoring/metrics.go
package monitoring

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors exercised by the engine.
type Metrics struct {
	TickDuration       prometheus.Histogram
	DroppedDynamicTask prometheus.Counter
	ConnectedClients   prometheus.Gauge
	BridgeQueueDepth   prometheus.Gauge
}

// NewMetrics registers and returns the engine's Prometheus collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "altruist_tick_duration_seconds",
			Help:    "Duration of one engine-loop iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		DroppedDynamicTask: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altruist_dynamic_task_dropped_total",
			Help: "Dynamic tasks dropped because a previous execution for the same key was still running.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "altruist_connected_clients",
			Help: "Number of connections currently registered in the Connection Store.",
		}),
		BridgeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "altruist_bridge_queue_depth",
			Help: "Observed depth of the inter-process bridge's shared ingress list.",
		}),
	}

	registry.MustRegister(m.TickDuration, m.DroppedDynamicTask, m.ConnectedClients, m.BridgeQueueDepth)
	return m
}
