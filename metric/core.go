package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the platform-level metrics of the mirror (not adapter
// specific). Adapter and cache labels identify the remote subtree.
type Metrics struct {
	// Remote request metrics
	FetchDuration *prometheus.HistogramVec
	FetchesTotal  *prometheus.CounterVec
	PutsTotal     *prometheus.CounterVec

	// Cache metrics
	LastRefresh *prometheus.GaugeVec
	CacheHits   *prometheus.CounterVec
	CacheMiss   *prometheus.CounterVec

	// Aggregation metrics
	FanOutWrites *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "odinmirror",
				Subsystem: "remote",
				Name:      "fetch_duration_seconds",
				Help:      "Wall-clock duration of remote subtree fetches",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"prefix"},
		),

		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "odinmirror",
				Subsystem: "remote",
				Name:      "fetches_total",
				Help:      "Total remote subtree fetches by status",
			},
			[]string{"prefix", "status"},
		),

		PutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "odinmirror",
				Subsystem: "remote",
				Name:      "puts_total",
				Help:      "Total remote parameter writes by status",
			},
			[]string{"prefix", "status"},
		),

		LastRefresh: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "odinmirror",
				Subsystem: "cache",
				Name:      "last_update_timestamp_seconds",
				Help:      "Unix timestamp of the last successful subtree refresh",
			},
			[]string{"prefix"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "odinmirror",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Reads satisfied from the cached subtree without a fetch",
			},
			[]string{"prefix"},
		),

		CacheMiss: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "odinmirror",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Reads that found the cached subtree stale",
			},
			[]string{"prefix"},
		),

		FanOutWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "odinmirror",
				Subsystem: "aggregate",
				Name:      "fan_out_writes_total",
				Help:      "Total fan-out broadcast writes by status",
			},
			[]string{"fan", "status"},
		),
	}
}

// collectors returns all core metric collectors for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FetchDuration,
		m.FetchesTotal,
		m.PutsTotal,
		m.LastRefresh,
		m.CacheHits,
		m.CacheMiss,
		m.FanOutWrites,
	}
}
