package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiamondLightSource/odinmirror/errors"
)

var _ Registrar = (*Registry)(nil)

func gatheredNames(t *testing.T, registry *Registry) map[string]bool {
	t.Helper()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	return names
}

func TestNewRegistryExposesCoreMetrics(t *testing.T) {
	registry := NewRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.CoreMetrics())

	core := registry.CoreMetrics()
	core.FetchesTotal.WithLabelValues("fp/0", "success").Inc()
	core.FanOutWrites.WithLabelValues("frames", "success").Inc()
	core.LastRefresh.WithLabelValues("fp/0").Set(1700000000)

	names := gatheredNames(t, registry)
	assert.True(t, names["odinmirror_remote_fetches_total"])
	assert.True(t, names["odinmirror_aggregate_fan_out_writes_total"])
	assert.True(t, names["odinmirror_cache_last_update_timestamp_seconds"])
}

func TestRegisterComponentMetrics(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "odinmirror",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "test counter",
	})
	require.NoError(t, registry.RegisterCounter("server", "requests_total", counter))
	counter.Inc()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "odinmirror",
		Subsystem: "server",
		Name:      "start_timestamp_seconds",
		Help:      "test gauge",
	})
	require.NoError(t, registry.RegisterGauge("server", "start_timestamp_seconds", gauge))
	gauge.SetToCurrentTime()

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "odinmirror",
		Subsystem: "server",
		Name:      "request_duration_seconds",
		Help:      "test histogram",
	})
	require.NoError(t, registry.RegisterHistogram("server", "request_duration_seconds", histogram))
	histogram.Observe(0.01)

	names := gatheredNames(t, registry)
	assert.True(t, names["odinmirror_server_requests_total"])
	assert.True(t, names["odinmirror_server_start_timestamp_seconds"])
	assert.True(t, names["odinmirror_server_request_duration_seconds"])
}

func TestRegisterDuplicateFails(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_total",
		Help: "test counter",
	})
	require.NoError(t, registry.RegisterCounter("server", "duplicate_total", counter))

	err := registry.RegisterCounter("server", "duplicate_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "short_lived_total",
		Help: "test counter",
	})
	require.NoError(t, registry.RegisterCounter("server", "short_lived_total", counter))

	assert.True(t, registry.Unregister("server", "short_lived_total"))
	assert.False(t, registry.Unregister("server", "short_lived_total"))

	// Freed name can be registered again
	require.NoError(t, registry.RegisterCounter("server", "short_lived_total", counter))
}
