// Package metrics registers the Prometheus collectors exposed by
// "carton serve" at /metrics: runner install counts, IPC round-trip
// latency, and shared-memory pool hit rate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every collector so callers can register one struct with
// an http.ServeMux via promhttp, or build a private *prometheus.Registry in
// tests.
type Registry struct {
	InstallTotal      *prometheus.CounterVec
	InstallDuration    prometheus.Histogram
	IPCRoundTrip       *prometheus.HistogramVec
	ShmPoolHits        prometheus.Counter
	ShmPoolMisses      prometheus.Counter
	ActiveModels       prometheus.Gauge
}

// New registers every collector against reg (promauto's default registerer
// when reg is nil) and returns the bundle.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		InstallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carton",
			Subsystem: "registry",
			Name:      "installs_total",
			Help:      "Count of runner install attempts by outcome.",
		}, []string{"outcome"}),

		InstallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carton",
			Subsystem: "registry",
			Name:      "install_duration_seconds",
			Help:      "Wall-clock time to fetch, verify, and extract a runner archive.",
			Buckets:   prometheus.DefBuckets,
		}),

		IPCRoundTrip: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carton",
			Subsystem: "ipc",
			Name:      "round_trip_seconds",
			Help:      "Round-trip latency of a runner IPC call by message kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"message_kind"}),

		ShmPoolHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "carton",
			Subsystem: "shmpool",
			Name:      "hits_total",
			Help:      "Count of shared-memory allocations satisfied by pool reuse.",
		}),

		ShmPoolMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "carton",
			Subsystem: "shmpool",
			Name:      "misses_total",
			Help:      "Count of shared-memory allocations that required a fresh segment.",
		}),

		ActiveModels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "carton",
			Subsystem: "orchestrator",
			Name:      "active_models",
			Help:      "Number of models currently Loaded and not yet Released.",
		}),
	}
}
