package snapshot

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes snapshot activity. A nil *Metrics is a no-op.
type Metrics struct {
	writes      *prometheus.CounterVec
	duration    prometheus.Histogram
	records     prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewMetrics registers the snapshot collectors on reg, or the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geomap_snapshot_writes_total",
			Help: "Snapshot writes by backend and outcome.",
		}, []string{"backend", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geomap_snapshot_write_duration_seconds",
			Help:    "Time spent encoding and saving a snapshot.",
			Buckets: prometheus.DefBuckets,
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomap_snapshot_records",
			Help: "Records contained in the last successful snapshot.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomap_snapshot_last_success_timestamp_seconds",
			Help: "Unix time of the last successful snapshot write.",
		}),
	}

	reg.MustRegister(m.writes, m.duration, m.records, m.lastSuccess)
	return m
}

func (m *Metrics) write(backend, result string, seconds float64) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(backend, result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) success(records int, unix float64) {
	if m == nil {
		return
	}
	m.records.Set(float64(records))
	m.lastSuccess.Set(unix)
}
